// Package reconcile is the decision core of the tool: it combines the
// certificate inventory, the inspection results and the proxy's declared
// references into a renewal plan for one run.
package reconcile

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/huksley/haproxy-acme-validation-plugin/pkg/certstore"
	"github.com/huksley/haproxy-acme-validation-plugin/pkg/haproxy"
	"github.com/huksley/haproxy-acme-validation-plugin/pkg/inspect"
)

// Reason tells why a domain is in the plan.
type Reason string

const (
	// ReasonExpiringSoon marks a certificate with strictly less validity
	// left than the configured threshold.
	ReasonExpiringSoon Reason = "expiring-soon"
	// ReasonForcedRenew marks a certificate renewed because the force flag
	// is set, independent of actual expiry.
	ReasonForcedRenew Reason = "forced-renew"
	// ReasonDeclaredButMissing marks a domain the proxy references whose
	// bundle file does not exist on disk.
	ReasonDeclaredButMissing Reason = "declared-but-missing"
)

// Entry is one planned action.
type Entry struct {
	Domain string
	Reason Reason
	// RequestedNames is the name set for the CA client: common name first,
	// then alternative names. For a declared-but-missing domain only the
	// implied base domain is known.
	RequestedNames []string
	// HasCertificate reports whether raw CA material exists for the
	// domain. It is false only for declared-but-missing domains that were
	// never issued; those need the CA client before any bundle can exist.
	HasCertificate bool
	// Details are human-readable notes for the plan rendering.
	Details []string
}

// InspectionFailure records a certificate that could not be read. These
// count against the run's exit status so a broken certificate cannot pass
// as "not expiring".
type InspectionFailure struct {
	Domain string
	Err    error
}

// Summary provides counts over the plan.
type Summary struct {
	Records            int
	ExpiringSoon       int
	Forced             int
	DeclaredMissing    int
	UpToDate           int
	InspectionFailures int
}

// Plan is the ordered outcome of one reconciliation pass.
type Plan struct {
	Entries            []Entry
	InspectionFailures []InspectionFailure
	Summary            Summary
}

// Inspector is the certificate inspection seam consumed by the reconciler.
type Inspector interface {
	Inspect(certPath string) (*inspect.Details, error)
}

// ComputePlan builds the renewal plan. Record entries come first in store
// scan order, then declared-but-missing entries in reference order, so
// repeated runs produce identical command sequences.
//
// The force flag takes precedence over expiry and covers every record. A
// proxy reference whose path is missing always yields an entry, even when
// the domain has a record: the bundle is absent either way, and
// HasCertificate tells the executor whether the CA client must run first.
func ComputePlan(
	records []certstore.Record,
	inspector Inspector,
	refs []haproxy.CertReference,
	force bool,
	logger *slog.Logger,
) *Plan {
	logger = logger.With("component", "reconcile")

	plan := &Plan{}
	plan.Summary.Records = len(records)

	recorded := make(map[string]bool, len(records))

	for _, rec := range records {
		recorded[rec.BaseDomain] = true

		details, err := inspector.Inspect(rec.CertPath)
		if err != nil {
			logger.Error("certificate inspection failed", "domain", rec.BaseDomain, "error", err)
			plan.InspectionFailures = append(plan.InspectionFailures, InspectionFailure{
				Domain: rec.BaseDomain,
				Err:    err,
			})
			plan.Summary.InspectionFailures++
			continue
		}

		daysLeft := int(details.Remaining.Hours() / 24)

		switch {
		case force:
			plan.Entries = append(plan.Entries, Entry{
				Domain:         rec.BaseDomain,
				Reason:         ReasonForcedRenew,
				RequestedNames: details.Names(),
				HasCertificate: true,
				Details:        []string{fmt.Sprintf("forced renewal, %d day(s) of validity left", daysLeft)},
			})
			plan.Summary.Forced++
		case details.ExpiresWithin:
			plan.Entries = append(plan.Entries, Entry{
				Domain:         rec.BaseDomain,
				Reason:         ReasonExpiringSoon,
				RequestedNames: details.Names(),
				HasCertificate: true,
				Details:        []string{fmt.Sprintf("expires in %d day(s)", daysLeft)},
			})
			plan.Summary.ExpiringSoon++
		default:
			logger.Info("no renewal needed", "domain", rec.BaseDomain, "days_left", daysLeft)
			plan.Summary.UpToDate++
		}
	}

	missingSeen := make(map[string]bool)
	for _, ref := range refs {
		if _, err := os.Stat(ref.Path); err == nil {
			continue
		}
		domain := ref.ImpliedBaseDomain()
		if missingSeen[domain] {
			continue
		}
		missingSeen[domain] = true

		entry := Entry{
			Domain:         domain,
			Reason:         ReasonDeclaredButMissing,
			RequestedNames: []string{domain},
			HasCertificate: recorded[domain],
			Details:        []string{fmt.Sprintf("declared in %s but %s is missing", ref.Source, ref.Path)},
		}
		if entry.HasCertificate {
			entry.Details = append(entry.Details, "certificate exists, bundle will be recomposed")
		} else {
			entry.Details = append(entry.Details, "no certificate issued yet")
		}
		plan.Entries = append(plan.Entries, entry)
		plan.Summary.DeclaredMissing++
	}

	return plan
}

// NeedsAction reports whether the plan contains any entries.
func (p *Plan) NeedsAction() bool {
	return len(p.Entries) > 0
}

// FormatPlan returns a human-readable rendering for the plan command and
// dry runs.
func (p *Plan) FormatPlan() string {
	var sb strings.Builder

	sb.WriteString("┌─────────────────────────────────────────────────────────────┐\n")
	sb.WriteString(fmt.Sprintf("│  Renewal Plan: %d certificate(s), %d action(s)\n", p.Summary.Records, len(p.Entries)))
	sb.WriteString("└─────────────────────────────────────────────────────────────┘\n\n")

	if len(p.Entries) == 0 && len(p.InspectionFailures) == 0 {
		sb.WriteString("  ✓ All certificates are current. Nothing to do.\n")
		return sb.String()
	}

	for _, entry := range p.Entries {
		var action string
		switch entry.Reason {
		case ReasonExpiringSoon:
			action = "~ RENEW "
		case ReasonForcedRenew:
			action = "! FORCE "
		case ReasonDeclaredButMissing:
			if entry.HasCertificate {
				action = "+ BUNDLE"
			} else {
				action = "+ ISSUE "
			}
		}
		sb.WriteString(fmt.Sprintf("  %s  %s\n", action, entry.Domain))
		if len(entry.RequestedNames) > 1 {
			sb.WriteString(fmt.Sprintf("            names: %s\n", strings.Join(entry.RequestedNames, ", ")))
		}
		for _, d := range entry.Details {
			sb.WriteString(fmt.Sprintf("            %s\n", d))
		}
	}

	for _, failure := range p.InspectionFailures {
		sb.WriteString(fmt.Sprintf("  ✗ ERROR   %s\n            %s\n", failure.Domain, failure.Err))
	}

	sb.WriteString(fmt.Sprintf("\n  %d expiring, %d forced, %d missing, %d up-to-date",
		p.Summary.ExpiringSoon, p.Summary.Forced, p.Summary.DeclaredMissing, p.Summary.UpToDate))
	if p.Summary.InspectionFailures > 0 {
		sb.WriteString(fmt.Sprintf(", %d unreadable", p.Summary.InspectionFailures))
	}
	sb.WriteString("\n")

	return sb.String()
}
