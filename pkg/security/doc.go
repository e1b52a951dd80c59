/*
Package security provides cryptographic services for the OMS core.

This package implements three capabilities: secrets encryption using
AES-256-GCM (used for the outbox PII "encrypt" policy and for any
at-rest sensitive data), a Certificate Authority (CA) for mutual TLS
between OMS replicas and the Indexer RPC client, and certificate
lifecycle management.

# Architecture

	┌─────────────────────────────────────────────────────────────┐
	│                    Security Architecture                    │
	└─────┬───────────────────────┬──────────────────┬────────────┘
	      │                       │                  │
	      ▼                       ▼                  ▼
	┌─────────────┐      ┌────────────────┐   ┌──────────────┐
	│   Secrets   │      │       CA       │   │ Certificate  │
	│ Encryption  │      │  (Root + Sub)  │   │  Management  │
	└─────┬───────┘      └────────┬───────┘   └──────┬───────┘
	      │                       │                   │
	      ▼                       ▼                   ▼
	  AES-256-GCM         RSA 4096-bit          90-day rotation
	  PII at rest         10-year validity      Automatic renewal

## Cluster Encryption Key

All security is rooted in the cluster encryption key, a 32-byte key
derived from the cluster ID during initialization:

	clusterKey = SHA-256(clusterID)  // 32 bytes for AES-256

This key encrypts:
  - PII payload fields routed to the "encrypt" handling policy
  - CA private key (in the Persistent Store Gateway)

The key is held only in memory on Raft-leader-eligible replicas and
must be provided when joining the cluster or recovering from backups.

# Secrets Encryption

## SecretsManager

SecretsManager encrypts and decrypts sensitive payload fields using
AES-256 in Galois/Counter Mode (GCM), providing authenticated
encryption:

	Plaintext → AES-256-GCM → Ciphertext + Authentication Tag
	                ↑
	            32-byte key

## Encryption Process

 1. Generate random 12-byte nonce
 2. Encrypt plaintext with AES-256-GCM
 3. Prepend nonce to ciphertext
 4. Store combined bytes: [nonce || ciphertext || tag]

This ensures each secret has a unique nonce, preventing cryptographic
attacks.

# Certificate Authority

## Root CA

The CA uses a hierarchical structure with a long-lived root
certificate:

	Root CA (self-signed)
	├── 10-year validity
	├── RSA 4096-bit key (high security)
	├── KeyUsage: CertSign, CRLSign
	└── Subject: CN=OMS Root CA, O=OMS Cluster

The root CA is created during cluster initialization and persisted
through the CAStore interface (satisfied by pkg/store.BoltStore):

	Root Certificate: Stored via CAStore (plaintext, public)
	Root Private Key: Stored via CAStore (encrypted with cluster key)

## Replica and Indexer Certificates

The CA issues certificates for every OMS replica and for the external
Indexer RPC client:

	Leaf Certificate
	├── 90-day validity
	├── RSA 2048-bit key (faster operations)
	├── KeyUsage: DigitalSignature, KeyEncipherment
	├── ExtKeyUsage: ServerAuth, ClientAuth
	├── Subject: CN={role}-{id}, O=OMS Cluster
	├── DNS Names: [replica hostname]
	└── IP Addresses: [replica IP]

	OMS Replica ←→ mTLS ←→ OMS Replica
	     ↓                       ↓
	CA verifies             CA verifies
	peer cert               peer cert

## Admin Client Certificates

The admin CLI also receives a certificate for authentication against
the internal gRPC admin surface:

	Client Certificate
	├── 90-day validity
	├── KeyUsage: DigitalSignature, KeyEncipherment
	├── ExtKeyUsage: ClientAuth
	└── Subject: CN=cli-{clientID}, O=OMS Cluster

# Design Patterns

## Authenticated Encryption

GCM mode provides both confidentiality and integrity:

	Encryption:  plaintext + key + nonce → ciphertext + tag
	Decryption:  ciphertext + tag + key + nonce → plaintext (or error)

A modified ciphertext, wrong key, or wrong nonce all fail decryption;
this is what the outbox PII "encrypt" policy relies on to detect
tampering of persisted payload fields.

## Hierarchical PKI

	Root CA (trust anchor)
	└── Replica/Client Certificates (issued by root)

The root key is only used for issuing certificates, so it can remain
out of the hot path entirely.

## Key Derivation

	clusterKey = SHA-256(clusterID)

Same cluster ID always yields the same key, so the key never itself
needs to be persisted — only the cluster ID does.

## Certificate Caching

The CA caches issued certificates in memory, keyed by subject ID, to
avoid re-signing on every connection attempt.

# Security Considerations

  - Compromise of the cluster encryption key exposes every encrypted
    PII field and the CA private key.
  - Certificates expire after 90 days (leaves) or 10 years (root);
    rotation is manual today (no ACME-style automatic renewal).
  - This package provides confidentiality and authentication; it does
    not implement revocation (CRL/OCSP) or post-quantum algorithms.
*/
package security
