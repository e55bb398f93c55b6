// Package utils provides small helpers shared across the service.
package utils

// MaskSecret masks a stored secret for display by showing only the
// first and last few characters, so logs can show which key is in use
// without revealing it.
func MaskSecret(secret string) string {
	if len(secret) < 10 {
		return "***" // Too short to safely show anything
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}
