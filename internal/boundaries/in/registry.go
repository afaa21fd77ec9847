package in

import "github.com/prtl/prtl/internal/domain"

// ProxyRegistry maps service names to descriptors.
type ProxyRegistry interface {
	// Register inserts or fully replaces the descriptor for its service name.
	Register(descriptor domain.ProxyDescriptor)

	// FindByDomain returns the descriptor serving host, if any.
	FindByDomain(host string) (domain.ProxyDescriptor, bool)

	// Services returns a snapshot of every registered descriptor.
	Services() []domain.ProxyDescriptor
}
