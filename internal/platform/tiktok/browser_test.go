package tiktok

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"strings"
	"testing"
)

func decryptXTT(t *testing.T, params string) string {
	t.Helper()
	data, err := base64.StdEncoding.DecodeString(params)
	if err != nil {
		t.Fatalf("Invalid base64: %v", err)
	}
	if len(data)%aes.BlockSize != 0 {
		t.Fatalf("Ciphertext length %d is not a multiple of the block size", len(data))
	}
	key := []byte(xttKey)
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatal(err)
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, key).CryptBlocks(out, data)

	n := int(out[len(out)-1])
	if n == 0 || n > aes.BlockSize || !bytes.Equal(out[len(out)-n:], bytes.Repeat([]byte{byte(n)}, n)) {
		t.Fatalf("Invalid padding %d", n)
	}
	return string(out[:len(out)-n])
}

func TestGenerateXTTParams(t *testing.T) {
	params, err := generateXTTParams("MS4wLjABAAAA", "1650000000000")
	if err != nil {
		t.Fatalf("generateXTTParams failed: %v", err)
	}

	plain := decryptXTT(t, params)
	if !strings.HasPrefix(plain, "aid=1988&app_name=tiktok_web&channel=tiktok_web&") {
		t.Errorf("Unexpected payload start %q", plain)
	}
	if !strings.Contains(plain, "&secUid=MS4wLjABAAAA&count=30&cursor=1650000000000&") {
		t.Errorf("Payload is missing the listing fields: %q", plain)
	}
	if !strings.HasSuffix(plain, "&is_encryption=1") {
		t.Errorf("Unexpected payload end %q", plain)
	}
	if strings.Count(plain, "&") != 32 {
		t.Errorf("Expected 33 fields, got %d", strings.Count(plain, "&")+1)
	}
}

func TestPKCS7Pad(t *testing.T) {
	tests := []struct {
		size   int
		padded int
	}{
		{0, 16},
		{15, 16},
		{16, 32},
		{17, 32},
	}

	for _, test := range tests {
		out := pkcs7Pad(make([]byte, test.size), aes.BlockSize)
		if len(out) != test.padded {
			t.Errorf("pkcs7Pad(%d) length = %d, expected %d", test.size, len(out), test.padded)
		}
		n := test.padded - test.size
		if int(out[len(out)-1]) != n {
			t.Errorf("pkcs7Pad(%d) pad byte = %d, expected %d", test.size, out[len(out)-1], n)
		}
	}
}

func TestParseItemList(t *testing.T) {
	items, hasMore, cursor := parseItemList(`
		{"itemList":[{"id":"1","desc":"one"},{"id":"2","desc":"two"}],"hasMore":true,"cursor":"1650000000000"}
	`)
	if len(items) != 2 || items[1].ID != "2" || items[1].Description != "two" {
		t.Errorf("Unexpected items %+v", items)
	}
	if !hasMore || cursor != "1650000000000" {
		t.Errorf("hasMore = %v, cursor = %q", hasMore, cursor)
	}

	items, hasMore, _ = parseItemList("not json")
	if len(items) != 0 || hasMore {
		t.Errorf("Garbage should parse as an empty last page, got %+v %v", items, hasMore)
	}
}
