// mkvoucher generates voucher secrets and, given an owner key, signs (and
// optionally submits) the create request that escrows them.
//
//	mkvoucher -n 3 -deposit 3000000000000000000
//	mkvoucher -n 1 -deposit 1000 -type linear -expire 24h -key $OWNER_KEY -server http://localhost:8080
package main

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/0gfoundation/0g-voucher-escrow/internal/api"
	"github.com/0gfoundation/0g-voucher-escrow/internal/auth"
	"github.com/0gfoundation/0g-voucher-escrow/internal/voucher"
)

// Generated is one voucher as handed to its recipient.
type Generated struct {
	ID         string `json:"id"`
	Secret     string `json:"secret"`
	Commitment string `json:"commitment"`
}

func main() {
	n := flag.Int("n", 1, "number of vouchers")
	deposit := flag.String("deposit", "", "total deposit in base units, split evenly (required)")
	kind := flag.String("type", "static", "payment type: static or linear")
	expire := flag.Duration("expire", 0, "expiry from now (required for linear)")
	keyHex := flag.String("key", os.Getenv("OWNER_KEY"), "owner private key (hex); signs the create request")
	server := flag.String("server", "", "escrow service URL; submit the signed request")
	flag.Parse()

	if *n < 1 || *deposit == "" {
		flag.Usage()
		os.Exit(2)
	}
	if _, err := voucher.ParseAmount(*deposit); err != nil {
		log.Fatalf("deposit: %v", err)
	}
	pt, err := voucher.ParsePaymentType(*kind)
	if err != nil {
		log.Fatalf("type: %v", err)
	}

	gen, err := generate(*n, rand.Reader)
	if err != nil {
		log.Fatalf("generate: %v", err)
	}
	body := createBody(gen, pt, *deposit, *expire, time.Now())
	printJSON(map[string]any{"vouchers": gen, "request": body})

	if *keyHex == "" {
		return
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(*keyHex, "0x"))
	if err != nil {
		log.Fatalf("invalid key: %v", err)
	}
	raw, _ := json.Marshal(body)
	headers, err := auth.Headers(auth.SignedRequest{
		Action:    api.ActionCreate,
		ExpiresAt: time.Now().Add(2 * time.Minute).Unix(),
		Nonce:     uuid.NewString(),
		Payload:   raw,
	}, key)
	if err != nil {
		log.Fatalf("sign: %v", err)
	}

	if *server == "" {
		printJSON(map[string]string{
			auth.HeaderAddress:   headers.Get(auth.HeaderAddress),
			auth.HeaderMessage:   headers.Get(auth.HeaderMessage),
			auth.HeaderSignature: headers.Get(auth.HeaderSignature),
		})
		return
	}

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(*server, "/")+"/api/vouchers", bytes.NewReader(raw))
	if err != nil {
		log.Fatalf("request: %v", err)
	}
	req.Header = headers
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("submit: %v", err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	fmt.Printf("%s\n%s\n", resp.Status, out)
	if resp.StatusCode != http.StatusCreated {
		os.Exit(1)
	}
}

// generate draws n fresh ids and 32-byte secrets from r.
func generate(n int, r io.Reader) ([]Generated, error) {
	out := make([]Generated, n)
	for i := range out {
		id := make([]byte, voucher.IDLen/2)
		if _, err := io.ReadFull(r, id); err != nil {
			return nil, err
		}
		secret := make([]byte, 32)
		if _, err := io.ReadFull(r, secret); err != nil {
			return nil, err
		}
		s := hex.EncodeToString(secret)
		out[i] = Generated{ID: hex.EncodeToString(id), Secret: s, Commitment: voucher.Commit(s)}
	}
	return out, nil
}

func createBody(gen []Generated, pt voucher.PaymentType, deposit string, expire time.Duration, now time.Time) api.CreateBody {
	body := api.CreateBody{PaymentType: pt, Deposit: deposit}
	for _, g := range gen {
		body.IDs = append(body.IDs, g.ID)
		body.Commitments = append(body.Commitments, g.Commitment)
	}
	if expire > 0 {
		at := now.Add(expire).UnixNano()
		body.ExpireAt = &at
	}
	return body
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v) //nolint:errcheck
}
