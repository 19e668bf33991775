// Package syscheck probes the environment a renewal run depends on. It backs
// the doctor command so a broken setup is reported up front instead of
// failing halfway through a run.
package syscheck

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/huksley/haproxy-acme-validation-plugin/pkg/config"
	"github.com/huksley/haproxy-acme-validation-plugin/pkg/runlock"
)

// Check is the outcome of a single environment probe.
type Check struct {
	Name     string
	Required bool
	Passed   bool
	Detail   string
	Hint     string
}

// Result holds the outcome of all probes.
type Result struct {
	Checks      []Check
	AllRequired bool
}

// SystemChecker verifies the binaries and paths a renewal run relies on.
type SystemChecker struct {
	cfg *config.Config
}

// NewSystemChecker creates a checker for the given configuration.
func NewSystemChecker(cfg *config.Config) *SystemChecker {
	return &SystemChecker{cfg: cfg}
}

// CheckAll runs every probe and reports whether the required ones passed.
func (s *SystemChecker) CheckAll() *Result {
	checks := []Check{
		s.checkCAClient(),
		s.checkReloadCommand(),
		s.checkStoreRoot(),
		s.checkProxyConfig(),
		s.checkWebroot(),
		s.checkListDir(),
		s.checkRunLock(),
	}

	result := &Result{Checks: checks, AllRequired: true}
	for _, c := range checks {
		if c.Required && !c.Passed {
			result.AllRequired = false
		}
	}
	return result
}

func (s *SystemChecker) checkCAClient() Check {
	c := Check{
		Name:     "CA client",
		Required: true,
		Hint:     "install certbot (https://certbot.eff.org/instructions) or set le_client to another ACME client",
	}
	path, err := exec.LookPath(s.cfg.LEClient)
	if err != nil {
		c.Detail = fmt.Sprintf("%s not found in PATH", s.cfg.LEClient)
		return c
	}
	c.Passed = true
	c.Detail = path
	if out, err := exec.Command(path, "--version").CombinedOutput(); err == nil {
		c.Detail = firstLine(string(out))
	}
	return c
}

func (s *SystemChecker) checkReloadCommand() Check {
	c := Check{
		Name:     "reload command",
		Required: true,
		Hint:     "set reload_cmd to the command that reloads HAProxy on this host",
	}
	fields := strings.Fields(s.cfg.ReloadCmd)
	if len(fields) == 0 {
		c.Detail = "reload_cmd is empty"
		return c
	}
	path, err := exec.LookPath(fields[0])
	if err != nil {
		c.Detail = fmt.Sprintf("%s not found in PATH", fields[0])
		return c
	}
	c.Passed = true
	c.Detail = path
	return c
}

func (s *SystemChecker) checkStoreRoot() Check {
	c := Check{
		Name:     "certificate store",
		Required: true,
		Hint:     "run the CA client once to create it, or point live_dir at the store",
	}
	info, err := os.Stat(s.cfg.LiveDir)
	switch {
	case err != nil:
		c.Detail = fmt.Sprintf("%s does not exist", s.cfg.LiveDir)
	case !info.IsDir():
		c.Detail = fmt.Sprintf("%s is not a directory", s.cfg.LiveDir)
	default:
		c.Passed = true
		c.Detail = s.cfg.LiveDir
	}
	return c
}

func (s *SystemChecker) checkProxyConfig() Check {
	c := Check{
		Name: "HAProxy config",
		Hint: "declared-but-missing detection is skipped while the config is unreadable",
	}
	f, err := os.Open(s.cfg.HAProxyCfg)
	if err != nil {
		c.Detail = fmt.Sprintf("%s is not readable", s.cfg.HAProxyCfg)
		return c
	}
	f.Close()
	c.Passed = true
	c.Detail = s.cfg.HAProxyCfg
	return c
}

func (s *SystemChecker) checkWebroot() Check {
	c := Check{
		Name:     "ACME webroot",
		Required: true,
		Hint:     "create the directory and serve /.well-known/acme-challenge/ from it",
	}
	if detail, ok := writable(s.cfg.Webroot); !ok {
		c.Detail = detail
	} else {
		c.Passed = true
		c.Detail = s.cfg.Webroot
	}
	return c
}

func (s *SystemChecker) checkListDir() Check {
	dir := filepath.Dir(s.cfg.CrtList)
	c := Check{
		Name:     "crt-list directory",
		Required: true,
		Hint:     "the certificate list is rewritten on every run and needs a writable directory",
	}
	if detail, ok := writable(dir); !ok {
		c.Detail = detail
	} else {
		c.Passed = true
		c.Detail = dir
	}
	return c
}

func (s *SystemChecker) checkRunLock() Check {
	c := Check{
		Name: "run lock",
		Hint: "wait for the active run to finish, or delete the lock file if it is dead",
	}
	holder, err := runlock.New(s.cfg.LockFile).Holder()
	switch {
	case err != nil:
		c.Detail = fmt.Sprintf("cannot read %s", s.cfg.LockFile)
	case holder != nil:
		c.Detail = fmt.Sprintf("held by %s since %s", holder.Who, holder.Created.Format(time.RFC3339))
	default:
		c.Passed = true
		c.Detail = "no active run"
	}
	return c
}

// writable reports whether dir accepts new files, probing with a temp file.
func writable(dir string) (string, bool) {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Sprintf("%s does not exist", dir), false
	}
	if !info.IsDir() {
		return fmt.Sprintf("%s is not a directory", dir), false
	}
	probe, err := os.CreateTemp(dir, ".certrenewal-probe-*")
	if err != nil {
		return fmt.Sprintf("%s is not writable", dir), false
	}
	probe.Close()
	os.Remove(probe.Name())
	return "", true
}

// firstLine trims command output to its first line for display.
func firstLine(out string) string {
	line := strings.TrimSpace(strings.SplitN(out, "\n", 2)[0])
	if len(line) > 80 {
		line = line[:80] + "..."
	}
	return line
}

// PrintResults renders the probe table for the doctor command.
func (s *SystemChecker) PrintResults(result *Result) {
	fmt.Println("\nEnvironment check")
	fmt.Println(strings.Repeat("─", 78))
	fmt.Printf("%-24s %-10s %s\n", "CHECK", "STATUS", "DETAIL")
	fmt.Println(strings.Repeat("─", 78))

	for _, c := range result.Checks {
		status := "✗ fail"
		switch {
		case c.Passed:
			status = "✓ ok"
		case !c.Required:
			status = "! warn"
		}
		fmt.Printf("%-24s %-10s %s\n", c.Name, status, c.Detail)
	}

	fmt.Println(strings.Repeat("─", 78))
	if result.AllRequired {
		fmt.Println("✓ ready to renew")
		return
	}

	fmt.Println("✗ fix these before the next run:")
	for _, c := range result.Checks {
		if !c.Passed && c.Required {
			fmt.Printf("  • %s: %s\n", c.Name, c.Hint)
		}
	}
}
