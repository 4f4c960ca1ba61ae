package main

import (
	"bytes"
	"encoding/base64"
	"testing"
)

func TestDecodeBase64Image(t *testing.T) {
	payload := []byte{0xff, 0xd8, 0xff, 0xe0, 0x01, 0x02}
	encoded := base64.StdEncoding.EncodeToString(payload)

	cases := []struct {
		name    string
		input   string
		want    []byte
		wantErr bool
	}{
		{"raw base64", encoded, payload, false},
		{"data uri", "data:image/jpeg;base64," + encoded, payload, false},
		{"data uri without comma", "data:image/jpeg;base64", nil, true},
		{"not base64", "!!!not-base64!!!", nil, true},
		{"empty payload", "", nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := decodeBase64Image(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !bytes.Equal(got, tc.want) {
				t.Fatalf("decoded %v, want %v", got, tc.want)
			}
		})
	}
}
