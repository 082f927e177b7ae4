// Package mail renders notification messages and delivers them through a
// pluggable provider (plain SMTP or the web3 mail gateway).
package mail

// Message is a fully rendered email ready for delivery. Recipients are
// wallet addresses when the web3 provider is active and plain email
// addresses otherwise.
type Message struct {
	Subject    string
	Body       string
	Recipients []string
}
