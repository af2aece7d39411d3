// Package aidcp provides an Agentic Identity & Delegation Control Plane:
// an OAuth2 client_credentials identity provider extended with a registry
// of agents and multi-step workflows, so that a delegated action taken by
// an autonomous agent carries a verifiable, scope-bounded, replay-resistant
// token all the way to the resource server that executes it.
//
// # Components
//
// The control plane is split into an identity provider and a resource-server
// library:
//
//	cmd/idp      — OAuth2 client_credentials issuer + agent/workflow registry
//	               + intent-token minting (pkg/oauth, pkg/intent, pkg/workflow)
//	cmd/gateway  — example resource server wiring pkg/resourceauth
//	cmd/shimctl  — CLI exercising pkg/shim's registration bootstrap
//
// Supporting packages:
//
//	pkg/checksum     — deterministic agent-identity checksum
//	pkg/keys         — RSA keypair + JWKS management
//	pkg/oauth        — client_credentials token issuance, JWKS, introspection
//	pkg/intent       — agent/workflow registration, intent-token minting
//	pkg/workflow     — pure DAG validator for multi-step workflows
//	pkg/shim         — client-side enforcement library for agent processes
//	pkg/resourceauth — resource-server two-phase token verification
//	pkg/aidcperr     — typed error kinds mapped to HTTP status
//
// # Starting the IDP
//
//	idp serve --config idp.yaml
//
// The IDP exposes /oauth/token, /oauth/.well-known/jwks.json,
// /oauth/introspect, /oauth/whoami, and the /intent/* registration and
// token-minting endpoints.
//
// # License
//
// AGPL-3.0 - See LICENSE.md for details.
package aidcp
