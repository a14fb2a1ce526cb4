package tracking

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"leadfunnel/models"
)

// NormalizeEmail lowercases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone keeps digits only.
func NormalizePhone(phone string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, phone)
}

// NormalizeText lowercases and trims; used for names and locations.
func NormalizeText(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizePostal lowercases and strips spaces, e.g. "M5V 2T6" -> "m5v2t6".
func NormalizePostal(s string) string {
	return strings.ReplaceAll(NormalizeText(s), " ", "")
}

// Hash is the SHA-256 hex digest of an already normalized value; empty stays empty.
func Hash(normalized string) string {
	if normalized == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// HashedUserData is the user_data object of the conversions API.
type HashedUserData struct {
	Em              []string `json:"em,omitempty"`
	Ph              []string `json:"ph,omitempty"`
	Fn              []string `json:"fn,omitempty"`
	Ln              []string `json:"ln,omitempty"`
	Ct              []string `json:"ct,omitempty"`
	St              []string `json:"st,omitempty"`
	Zp              []string `json:"zp,omitempty"`
	Country         []string `json:"country,omitempty"`
	ExternalID      []string `json:"external_id,omitempty"`
	ClientIPAddress string   `json:"client_ip_address,omitempty"`
	ClientUserAgent string   `json:"client_user_agent,omitempty"`
	FBP             string   `json:"fbp,omitempty"`
	FBC             string   `json:"fbc,omitempty"`
}

// HashUserData normalizes and hashes every personal identifier. Browser
// cookies, IP and user agent pass through unhashed as the platform expects.
func HashUserData(u models.UserData) HashedUserData {
	return HashedUserData{
		Em:              single(Hash(NormalizeEmail(u.Email))),
		Ph:              single(Hash(NormalizePhone(u.Phone))),
		Fn:              single(Hash(NormalizeText(u.FirstName))),
		Ln:              single(Hash(NormalizeText(u.LastName))),
		Ct:              single(Hash(strings.ReplaceAll(NormalizeText(u.City), " ", ""))),
		St:              single(Hash(NormalizeText(u.Province))),
		Zp:              single(Hash(NormalizePostal(u.PostalCode))),
		Country:         single(Hash(NormalizeText(u.Country))),
		ExternalID:      single(Hash(strings.TrimSpace(u.ExternalID))),
		ClientIPAddress: u.ClientIP,
		ClientUserAgent: u.UserAgent,
		FBP:             u.FBP,
		FBC:             u.FBC,
	}
}

func single(v string) []string {
	if v == "" {
		return nil
	}
	return []string{v}
}
