package service

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"cpay-gateway/pkg/apperror"
)

// MD5ChecksumService implements ports.ChecksumService with the cPay keyed MD5.
// MD5 is what the gateway computes on its side; it is not a design choice.
type MD5ChecksumService struct {
	secret string
}

// NewMD5ChecksumService creates a checksum engine bound to the merchant checksum key.
func NewMD5ChecksumService(secret string) *MD5ChecksumService {
	return &MD5ChecksumService{secret: secret}
}

// Sign returns lower_hex(MD5(header || v1 || ... || vn || secret)).
func (s *MD5ChecksumService) Sign(header string, values []string) string {
	h := md5.New()
	h.Write([]byte(header))
	for _, v := range values {
		h.Write([]byte(v))
	}
	h.Write([]byte(s.secret))
	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks the header against values first, then the checksum.
func (s *MD5ChecksumService) Verify(header string, values []string, checksum string) error {
	if err := checkHeader(header, values); err != nil {
		return err
	}

	expected := s.Sign(header, values)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(checksum))) != 1 {
		return apperror.ErrIntegrity()
	}
	return nil
}
