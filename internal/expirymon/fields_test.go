package expirymon

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/y0ug/expirymon/internal/models"
)

func TestResolveSerialAndExpiry(t *testing.T) {
	r := NewFieldResolver(DefaultFieldRules())

	got := r.Resolve(map[string]any{
		"Serial_Number":        "ABC123",
		"Warranty_Expiry_Date": "2025-01-15",
	})
	assert.Equal(t, models.ResolvedExpiration{Serial: "ABC123", Expiry: "2025-01-15"}, got)
}

func TestResolveDropsBlankValues(t *testing.T) {
	r := NewFieldResolver(DefaultFieldRules())

	got := r.Resolve(map[string]any{"Notes": "n/a", "Foo": ""})
	assert.Equal(t, models.ResolvedExpiration{}, got)

	got = r.Resolve(map[string]any{"serial_number": "None", "warranty_expiry": nil})
	assert.Equal(t, models.ResolvedExpiration{}, got)

	assert.Equal(t, models.ResolvedExpiration{}, r.Resolve(nil))
}

func TestResolveStripsDiacritics(t *testing.T) {
	r := NewFieldResolver(DefaultFieldRules())

	got := r.Resolve(map[string]any{
		"Número_de_Série_42": "BR-998877",
		"Data_de_Vencimento": "2026-11-30",
	})
	assert.Equal(t, "BR-998877", got.Serial)
	assert.Equal(t, "2026-11-30", got.Expiry)
}

func TestResolveKeepsFirstOfCollidingNames(t *testing.T) {
	r := NewFieldResolver(DefaultFieldRules())

	got := r.Resolve(map[string]any{"Serial": "FIRST", "serial": "SECOND"})
	assert.Equal(t, "FIRST", got.Serial)

	got = r.Resolve(map[string]any{"serie_no": "PLAIN", "série_no": "ACCENTED"})
	assert.Equal(t, "PLAIN", got.Serial)
}

func TestResolveKeywordOrderWins(t *testing.T) {
	r := NewFieldResolver(DefaultFieldRules())

	// "serial" is listed before "imei" and "asset_tag"
	got := r.Resolve(map[string]any{
		"asset_tag_13": "TAG-1",
		"imei_13":      json.Number("356938035643809"),
		"serial_13":    "SER-1",
	})
	assert.Equal(t, "SER-1", got.Serial)

	got = r.Resolve(map[string]any{
		"asset_tag_13": "TAG-1",
		"imei_13":      json.Number("356938035643809"),
	})
	assert.Equal(t, "356938035643809", got.Serial)
}

func TestResolveExpiryLengthGuard(t *testing.T) {
	r := NewFieldResolver(DefaultFieldRules())

	// a truncated warranty value is rejected and the next keyword is tried
	got := r.Resolve(map[string]any{
		"warranty_expiry": "2025-01",
		"support_end_1":   "2027-06-01",
	})
	assert.Equal(t, "2027-06-01", got.Expiry)

	got = r.Resolve(map[string]any{"expiry_date": "12345678"})
	assert.Equal(t, "", got.Expiry)

	got = r.Resolve(map[string]any{"expiry_date": "123456789"})
	assert.Equal(t, "123456789", got.Expiry)
}

func TestLoadFieldRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - keyword: Numéro_série
    target: serial
  - keyword: garantie
    target: expiry
    min_length: 8
`), 0o600))

	rules, err := LoadFieldRules(path)
	require.NoError(t, err)
	require.Len(t, rules, 2)

	r := NewFieldResolver(rules)
	got := r.Resolve(map[string]any{
		"numero_serie_pc": "FR-1",
		"fin_garantie":    "2027-02-02",
	})
	assert.Equal(t, "FR-1", got.Serial)
	assert.Equal(t, "2027-02-02", got.Expiry)
}

func TestLoadFieldRulesEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules: []\n"), 0o600))

	_, err := LoadFieldRules(path)
	assert.Error(t, err)

	_, err = LoadFieldRules(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestExampleFieldRulesMatchDefaults(t *testing.T) {
	rules, err := LoadFieldRules("../../field_rules.example.yaml")
	require.NoError(t, err)
	assert.Equal(t, DefaultFieldRules(), rules)
}
