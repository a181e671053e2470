// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MRC Auth Contributors

// Package auth verifies member credentials and secures their sessions.
//
// # Components
//
//   - PasswordHasher - argon2id hashing with transparent bcrypt upgrade
//   - TokenIssuer - signed access and refresh tokens with a revocation denylist
//   - LockoutTracker - progressive lockout after consecutive failures
//   - ResetTokenStore - single-use, hashed password reset tokens
//   - Service - the orchestrator tying the above to an AccountRepository
//
// Domain types (Account, PasswordReset) should be created using their
// constructors, NewAccount and NewPasswordReset. Repository implementations
// receive pre-validated values.
//
// # Errors
//
// Components return samber/oops errors carrying internal codes. Service
// narrows every failure to an *Error whose Kind and Message are safe to
// show to a client; see Narrow.
package auth
