// Package model defines the deployment, pricing, and agreement-limit
// data structures shared by the registry, auth, and payg components.
// These are value types with json tags mirroring the teacher's
// plain-struct metadata style.
package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// DeploymentKind classifies the upstream protocol a Deployment serves.
type DeploymentKind int

const (
	KindSubGraphQL DeploymentKind = iota
	KindEvmRPC
	KindSubstrateRPC
	KindAI
)

// Endpoint is a single named backend URL for a deployment. Name carries
// the raw key the project document used (evmHttp, substrateHttp,
// queryEndpoint, ...) so the registry can classify it without a second
// lookup.
type Endpoint struct {
	Name string
	URL  string
}

// Deployment describes one indexed dataset this gateway answers queries
// for, keyed by its 32-byte content hash (see stateproto.CIDToHash /
// stateproto.HashToCID for the base58 multihash form used on the wire).
type Deployment struct {
	ID              common.Hash
	Kind            DeploymentKind
	Endpoints       []Endpoint // Endpoints[0] is always the default query endpoint.
	RateCapPerSec   int        // 0 means no project-level cap.
	PaygPrice       *big.Int   // smallest-denom price per query unit.
	PaygToken       common.Address
	PaygExpiration  int64 // max seconds a channel opened against this deployment may run.
	PaygOverflow    uint64 // conflict_times tolerance before quarantine.
}

// DefaultEndpoint returns the deployment's index-0 endpoint URL, or the
// empty string if none are configured.
func (d *Deployment) DefaultEndpoint() string {
	if len(d.Endpoints) == 0 {
		return ""
	}
	return d.Endpoints[0].URL
}

// Endpoint looks up a named endpoint, falling back to the default when
// name is empty.
func (d *Deployment) EndpointByName(name string) (string, bool) {
	if name == "" {
		return d.DefaultEndpoint(), len(d.Endpoints) > 0
	}
	for _, e := range d.Endpoints {
		if e.Name == name {
			return e.URL, true
		}
	}
	return "", false
}

// PriceQuote is the indexer controller's signed price offer, presented
// by a consumer when opening a channel at a price above the project
// default.
type PriceQuote struct {
	DeploymentID      common.Hash
	Price             *big.Int
	Token             common.Address
	ExpirationSeconds int64
	QuoteExpiryUnix   int64
	Signature         [65]byte
}

// ConsumerKind tags the two ConsumerType variants.
type ConsumerKind uint8

const (
	ConsumerAccount ConsumerKind = 0
	ConsumerHost    ConsumerKind = 1
)

// ConsumerType is the closed tagged variant from spec §3: either a
// plain Account (the nominal consumer plus any learned controllers) or
// a Host (a consumer-host intermediary contract, where multiple signers
// are legitimate by design). It is a sum type expressed as a kind byte
// plus a signer list, not an interface, matching the finite-enumeration
// idiom called for by the design notes.
type ConsumerType struct {
	Kind    ConsumerKind
	Signers []common.Address
}

// Contains reports whether s is one of the type's recognized signers.
func (c ConsumerType) Contains(s common.Address) bool {
	for _, signer := range c.Signers {
		if signer == s {
			return true
		}
	}
	return false
}

// IsEmpty reports whether no signers have been learned yet.
func (c ConsumerType) IsEmpty() bool { return len(c.Signers) == 0 }

// WithSigner returns a copy of c with s appended, used when a
// newly-verified controller is learned for an Account-type channel.
func (c ConsumerType) WithSigner(s common.Address) ConsumerType {
	signers := make([]common.Address, len(c.Signers), len(c.Signers)+1)
	copy(signers, c.Signers)
	signers = append(signers, s)
	return ConsumerType{Kind: c.Kind, Signers: signers}
}

// AgreementLimits holds the daily/per-second budget for a prepaid
// agreement or free-trial IP, as resolved at JWT issuance time.
type AgreementLimits struct {
	DailyLimit int64
	RateLimit  int64
}

// PlanTemplate mirrors the on-chain plan_manager.getPlanTemplate reply
// (§6.4): a prepaid agreement's window and budget, before it is bound to
// a specific agreement id.
type PlanTemplate struct {
	Period      int64
	DailyReqCap int64
	RateLimit   int64
	PriceToken  common.Address
	Metadata    string
	Active      bool
}

// ServiceAgreement mirrors service_agreement_registry.getClosedServiceAgreement.
type ServiceAgreement struct {
	Consumer     common.Address
	Indexer      common.Address
	Deployment   common.Hash
	LockedAmount *big.Int
	Start        int64
	Period       int64
	PlanID       uint64
	TemplateID   uint64
}
