package vault

import (
	"encoding/base64"
	"errors"
	"strings"
)

// errMalformedEnvelope marks an on-disk document that deviates from the
// two-field dot-joined envelope format. It never escapes the package; the
// caller maps it to the corrupt-file path.
var errMalformedEnvelope = errors.New("malformed envelope")

// encodeEnvelope renders the on-disk encoding of an encrypted secret:
// base64(ciphertext) + "." + base64(nonce).
func encodeEnvelope(ciphertext, nonce []byte) []byte {
	var b strings.Builder
	b.WriteString(base64.StdEncoding.EncodeToString(ciphertext))
	b.WriteByte('.')
	b.WriteString(base64.StdEncoding.EncodeToString(nonce))
	return []byte(b.String())
}

// parseEnvelope splits and decodes an envelope document. Any deviation from
// the expected format is reported as errMalformedEnvelope.
func parseEnvelope(data []byte) (ciphertext, nonce []byte, err error) {
	parts := strings.Split(string(data), ".")
	if len(parts) != 2 {
		return nil, nil, errMalformedEnvelope
	}

	ciphertext, err = base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, nil, errMalformedEnvelope
	}

	nonce, err = base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, nil, errMalformedEnvelope
	}

	return ciphertext, nonce, nil
}
