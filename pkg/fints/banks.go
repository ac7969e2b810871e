package fints

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// KnownBank is a seeded endpoint suggestion for a German bank routing code.
type KnownBank struct {
	BankCode string `yaml:"bank_code" json:"bankCode"`
	Name     string `yaml:"name" json:"name"`
	URL      string `yaml:"url" json:"url"`
}

// BankRegistry maps BLZ to known FinTS endpoints so administrators do not
// have to look up endpoint URLs by hand when creating a connection.
type BankRegistry struct {
	byCode map[string]KnownBank
}

// defaultBanks covers the institutes the module has been used against.
var defaultBanks = []KnownBank{
	{BankCode: "12030000", Name: "Deutsche Kreditbank (DKB)", URL: "https://banking-dkb.s-fints-pt-dkb.de/fints30"},
	{BankCode: "20041111", Name: "Commerzbank", URL: "https://fints.commerzbank.com/PinTanCgi"},
	{BankCode: "37040044", Name: "Commerzbank", URL: "https://fints.commerzbank.com/PinTanCgi"},
	{BankCode: "50040000", Name: "Commerzbank", URL: "https://fints.commerzbank.com/PinTanCgi"},
	{BankCode: "67280051", Name: "Volksbank", URL: "https://fints.gad.de/fints"},
}

// NewBankRegistry returns a registry seeded with the built-in bank list.
func NewBankRegistry() *BankRegistry {
	r := &BankRegistry{byCode: make(map[string]KnownBank, len(defaultBanks))}
	for _, b := range defaultBanks {
		r.byCode[b.BankCode] = b
	}
	return r
}

// LoadBankRegistry reads additional banks from a YAML file and merges them
// over the built-in list. Entries with the same BLZ override built-ins.
func LoadBankRegistry(path string) (*BankRegistry, error) {
	r := NewBankRegistry()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("failed to read bank registry: %w", err)
	}
	var banks []KnownBank
	if err := yaml.Unmarshal(data, &banks); err != nil {
		return nil, fmt.Errorf("failed to parse bank registry: %w", err)
	}
	for _, b := range banks {
		r.byCode[b.BankCode] = b
	}
	return r, nil
}

// Lookup returns the known endpoint for a routing code, if any.
func (r *BankRegistry) Lookup(bankCode string) (KnownBank, bool) {
	b, ok := r.byCode[bankCode]
	return b, ok
}

// All returns every known bank, ordered by routing code.
func (r *BankRegistry) All() []KnownBank {
	out := make([]KnownBank, 0, len(r.byCode))
	for _, b := range r.byCode {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BankCode < out[j].BankCode })
	return out
}
