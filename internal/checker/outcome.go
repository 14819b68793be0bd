package checker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/mir00r/nodebalancer/internal/domain"
	lberrors "github.com/mir00r/nodebalancer/internal/errors"
	"github.com/mir00r/nodebalancer/pkg/logger"
)

// Kind classifies a failed probe
type Kind string

const (
	KindConnectionRefused Kind = "ConnectionRefused"
	KindTimeout           Kind = "Timeout"
	KindHostUnreachable   Kind = "HostUnreachable"
	KindProbeError        Kind = "ProbeError"
)

// Diagnostic formats the check status recorded on a node
func Diagnostic(kind Kind, err error) string {
	return fmt.Sprintf("%s: %v", kind, err)
}

// Classify maps a transport error to a probe failure kind
func Classify(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return KindConnectionRefused
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return KindHostUnreachable
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindHostUnreachable
	}

	return KindProbeError
}

// recordFailure applies a failed probe to the node.
// A timeout only costs the node one readiness step and keeps it alive.
func recordFailure(node *domain.Node, err error, log *logger.Logger) Kind {
	kind := Classify(err)
	node.SetCheckStatus(Diagnostic(kind, err))

	switch kind {
	case KindConnectionRefused, KindHostUnreachable:
		node.ReportAlive(false)
		node.ReportActive(false)
		log.WithError(err).Debugf("Node unreachable: %s", kind)
	case KindTimeout:
		node.ReportActive(false)
		log.WithError(err).Debug("Probe timed out")
	default:
		log.WithError(err).
			WithField("error_code", lberrors.ErrCodeProbeFailed).
			Error("Probe failed")
	}
	return kind
}

// recordSuccess marks the node alive and active and clears its diagnostic
func recordSuccess(node *domain.Node) {
	node.ReportAlive(true)
	node.ReportActive(true)
	node.SetCheckStatus("")
}

// recoverProbe keeps a panicking probe from escaping the checker
func recoverProbe(node *domain.Node, log *logger.Logger) {
	if r := recover(); r != nil {
		err := fmt.Errorf("probe panic: %v", r)
		node.SetCheckStatus(Diagnostic(KindProbeError, err))
		log.WithError(err).
			WithField("error_code", lberrors.ErrCodeProbeFailed).
			Error("Probe panicked")
	}
}
