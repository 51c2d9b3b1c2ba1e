package service

import "errors"

// Sentinel errors for the registry services.
var (
	ErrInvalidDomain       = errors.New("invalid domain name")
	ErrDelegationNotFound  = errors.New("domain is not delegated")
	ErrCertificateNotFound = errors.New("certificate not found")
	ErrIssuanceInProgress  = errors.New("an issuance attempt for this domain is already in progress")
	ErrRevoked             = errors.New("certificate has been revoked")
	ErrNotIssued           = errors.New("no certificate has been issued for this domain")
	ErrUnknownCA           = errors.New("unknown certificate authority")
	ErrProviderMismatch    = errors.New("delegation provider does not match configuration")
)
