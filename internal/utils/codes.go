package utils

import (
	"crypto/rand"
	"math/big"
)

const codeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomCode returns n characters drawn uniformly from A-Z and 0-9.
func RandomCode(n int) (string, error) {
	max := big.NewInt(int64(len(codeCharset)))
	code := make([]byte, n)
	for i := range code {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		code[i] = codeCharset[idx.Int64()]
	}
	return string(code), nil
}

// NewTicketCode returns a printable ticket code such as TKT-7Q2M0XK4B1ZD.
func NewTicketCode() (string, error) {
	code, err := RandomCode(12)
	if err != nil {
		return "", err
	}
	return "TKT-" + code, nil
}

// NewPaymentReference returns a payment reference such as PAY-4KD93JQ0ZT.
func NewPaymentReference() (string, error) {
	code, err := RandomCode(10)
	if err != nil {
		return "", err
	}
	return "PAY-" + code, nil
}
