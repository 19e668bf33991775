package main

import "github.com/huksley/haproxy-acme-validation-plugin/cmd"

func main() {
	cmd.Execute()
}
