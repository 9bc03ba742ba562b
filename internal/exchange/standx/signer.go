package standx

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// requestSigner signs REST requests with the account's API credentials.
// Signature payload: timestamp + method + path + query + body.
type requestSigner struct {
	apiKey    string
	secretKey string
}

func newRequestSigner(apiKey, secretKey string) *requestSigner {
	return &requestSigner{apiKey: apiKey, secretKey: secretKey}
}

// SignRequest implements http.Signer
func (s *requestSigner) SignRequest(req *http.Request) error {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)

	var body []byte
	if req.GetBody != nil {
		rc, err := req.GetBody()
		if err != nil {
			return fmt.Errorf("read body for signing: %w", err)
		}
		body, err = io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("read body for signing: %w", err)
		}
	}

	payload := ts + req.Method + req.URL.Path + req.URL.RawQuery + string(body)
	mac := hmac.New(sha256.New, []byte(s.secretKey))
	mac.Write([]byte(payload))

	req.Header.Set("X-API-KEY", s.apiKey)
	req.Header.Set("X-TIMESTAMP", ts)
	req.Header.Set("X-SIGNATURE", hex.EncodeToString(mac.Sum(nil)))
	return nil
}
