package crypto

import (
	"strings"
	"testing"
)

// Vector from the Binance signed-endpoint documentation.
const (
	docSecret = "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j"
	docQuery  = "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"
	docSig    = "c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71"
)

func TestSignMatchesDocVector(t *testing.T) {
	auth := &HMACAuth{Secret: docSecret}
	if got := auth.Sign(docQuery); got != docSig {
		t.Errorf("Sign = %s, want %s", got, docSig)
	}
}

func TestSignedQueryAtMatchesDocVector(t *testing.T) {
	auth := &HMACAuth{Secret: docSecret}
	base := "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000"

	got := auth.SignedQueryAt(base, 1499827319559)
	want := docQuery + "&signature=" + docSig
	if got != want {
		t.Errorf("SignedQueryAt = %s, want %s", got, want)
	}
}

func TestSignedQueryAtEmptyQuery(t *testing.T) {
	auth := &HMACAuth{Secret: "secret"}
	got := auth.SignedQueryAt("", 1700000000000)
	if !strings.HasPrefix(got, "timestamp=1700000000000&signature=") {
		t.Errorf("SignedQueryAt = %s", got)
	}
	if strings.HasPrefix(got, "&") {
		t.Errorf("leading separator on empty query: %s", got)
	}
}
