// rpsession provides the relying-party session layer for an OpenID Connect
// login flow: the rp package turns an authorization-code callback into a
// local, persistent user session and keeps that session's credentials fresh
// without re-authentication, while rp/oidcclient supplies the wire client it
// drives.
//
// See README.md
package rpsession
