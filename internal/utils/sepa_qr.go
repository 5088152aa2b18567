package utils

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"
)

// Beneficiary est le compte crédité par les virements manuels.
type Beneficiary struct {
	Name string
	IBAN string
	BIC  string
}

func (b Beneficiary) Configured() bool {
	return b.IBAN != "" && b.Name != ""
}

// FormatAmount convertit un montant en unités mineures (centimes) en "12.34".
func FormatAmount(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}

// SepaPayload construit le contenu EPC069-12 (version 002, UTF-8) d'un virement SEPA.
func SepaPayload(b Beneficiary, amountMinor int64, currency, reference string) string {
	lines := []string{
		"BCD",
		"002",
		"1",
		"SCT",
		b.BIC,
		truncate(b.Name, 70),
		strings.ReplaceAll(b.IBAN, " ", ""),
		strings.ToUpper(currency) + FormatAmount(amountMinor),
		"",
		"",
		truncate(reference, 140),
	}
	return strings.Join(lines, "\n")
}

// GenerateSepaQR génère un QR SEPA (EPC) en PNG.
func GenerateSepaQR(b Beneficiary, amountMinor int64, currency, reference string) ([]byte, error) {
	if !b.Configured() {
		return nil, fmt.Errorf("bénéficiaire SEPA non configuré")
	}
	return qrcode.Encode(SepaPayload(b, amountMinor, currency, reference), qrcode.Medium, 256)
}

// DataURL encode un PNG prêt à mettre dans <img src="...">.
func DataURL(png []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
