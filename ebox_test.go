package ebox

import (
	"bytes"
	"testing"

	"github.com/codahale/gubbins/assert"

	"github.com/joyent/ebox/internal/wire"
)

func buildPrimaryTemplate(t *testing.T, priv *PrivateKey) *Template {
	t.Helper()

	tc := NewPrimaryConfig()
	if err := tc.AddPart(&TemplatePart{RecipientPubkey: priv.PublicKey()}); err != nil {
		t.Fatal(err)
	}

	tpl := NewTemplate()
	if err := tpl.AddConfig(tc); err != nil {
		t.Fatal(err)
	}

	return tpl
}

func TestPrimarySinglePartRoundTrip(t *testing.T) {
	t.Parallel()

	priv := mustKey(t)
	tpl := buildPrimaryTemplate(t, priv)

	key := bytes.Repeat([]byte{0x00}, 31)
	key = append(key, 0x1f)

	eb, err := Create(tpl, key, nil)
	if err != nil {
		t.Fatal(err)
	}

	parsed, err := ParseEbox(eb.Serialize())
	if err != nil {
		t.Fatal(err)
	}

	provider := NewLocalProvider(priv)

	cfg := parsed.Configs[0]
	if err := cfg.Parts[0].UnsealPart(provider); err != nil {
		t.Fatal(err)
	}

	if err := parsed.Unlock(cfg); err != nil {
		t.Fatal(err)
	}

	assert.Equal(t, "recovered key", key, parsed.Key())

	if err := parsed.Unlock(cfg); err == nil {
		t.Fatal("expected second unlock to fail")
	} else if ee, ok := err.(*Error); !ok || ee.Kind != KindAgain {
		t.Fatalf("expected again, got %v", err)
	}
}

func TestCreateFailsWithoutRecipientKey(t *testing.T) {
	t.Parallel()

	tc := NewPrimaryConfig()
	tc.Parts = append(tc.Parts, &TemplatePart{})

	tpl := NewTemplate()
	tpl.Configs = append(tpl.Configs, tc)

	_, err := Create(tpl, []byte("k"), nil)
	if err == nil {
		t.Fatal("expected create to fail for a part with no recipient key")
	} else if ee, ok := err.(*Error); !ok || ee.Kind != KindNoKey {
		t.Fatalf("expected no_key, got %v", err)
	}
}

func TestTwoIndependentCreatesAreByteDistinct(t *testing.T) {
	t.Parallel()

	priv := mustKey(t)
	tpl := buildPrimaryTemplate(t, priv)
	key := bytes.Repeat([]byte{0xAB}, 32)

	a, err := Create(tpl, key, nil)
	if err != nil {
		t.Fatal(err)
	}

	b, err := Create(tpl, key, nil)
	if err != nil {
		t.Fatal(err)
	}

	if bytes.Equal(a.Serialize(), b.Serialize()) {
		t.Fatal("expected independent creates to be byte-distinct")
	}

	for _, eb := range []*Ebox{a, b} {
		provider := NewLocalProvider(priv)
		cfg := eb.Configs[0]

		if err := cfg.Parts[0].UnsealPart(provider); err != nil {
			t.Fatal(err)
		}

		if err := eb.Unlock(cfg); err != nil {
			t.Fatal(err)
		}

		assert.Equal(t, "recovered key", key, eb.Key())
	}
}

// TestEboxForwardCompatUnknownTag is scenario 6: a synthetic, unrecognized
// tag inside an EboxPart's field sequence must be skipped on parse without
// affecting the part's semantics.
func TestEboxForwardCompatUnknownTag(t *testing.T) {
	t.Parallel()

	priv := mustKey(t)
	tpl := buildPrimaryTemplate(t, priv)
	key := bytes.Repeat([]byte{0x42}, 32)

	eb, err := Create(tpl, key, nil)
	if err != nil {
		t.Fatal(err)
	}

	part := eb.Configs[0].Parts[0]

	pubBuf := wire.NewWriter()
	part.TemplatePart.RecipientPubkey.putWire(pubBuf)

	boxBuf := wire.NewWriter()
	part.SealedBox.putWire(boxBuf)

	partBuf := wire.NewWriter()
	partBuf.PutField(partTagPubkey, pubBuf.Bytes())
	partBuf.PutField(0xFE, []byte("future extension"))
	partBuf.PutField(eboxPartTagSealedBox, boxBuf.Bytes())
	partBuf.PutUint8(partTagEnd)

	configBuf := wire.NewWriter()
	configBuf.PutUint8(uint8(ConfigPrimary))
	configBuf.PutUint8(1)
	configBuf.PutUint8(1)

	for _, b := range partBuf.Bytes() {
		configBuf.PutUint8(b)
	}

	outerBuf := wire.NewWriter()
	outerBuf.PutUint8(eboxMagic[0])
	outerBuf.PutUint8(eboxMagic[1])
	outerBuf.PutUint8(eboxVersion)
	outerBuf.PutUint8(1)

	for _, b := range configBuf.Bytes() {
		outerBuf.PutUint8(b)
	}

	outerBuf.PutBytes(nil)

	parsed, err := ParseEbox(outerBuf.Bytes())
	if err != nil {
		t.Fatal(err)
	}

	provider := NewLocalProvider(priv)
	cfg := parsed.Configs[0]

	if err := cfg.Parts[0].UnsealPart(provider); err != nil {
		t.Fatal(err)
	}

	if err := parsed.Unlock(cfg); err != nil {
		t.Fatal(err)
	}

	assert.Equal(t, "recovered key", key, parsed.Key())

	reserialized := parsed.Serialize()

	reparsed, err := ParseEbox(reserialized)
	if err != nil {
		t.Fatal(err)
	}

	if err := reparsed.Configs[0].Parts[0].UnsealPart(NewLocalProvider(priv)); err != nil {
		t.Fatal(err)
	}

	if err := reparsed.Unlock(reparsed.Configs[0]); err != nil {
		t.Fatal(err)
	}

	assert.Equal(t, "recovered key after re-serialize", key, reparsed.Key())
}

func TestEboxCloneResetsDecryptState(t *testing.T) {
	t.Parallel()

	priv := mustKey(t)
	tpl := buildPrimaryTemplate(t, priv)
	key := bytes.Repeat([]byte{0x7f}, 32)

	eb, err := Create(tpl, key, nil)
	if err != nil {
		t.Fatal(err)
	}

	cfg := eb.Configs[0]
	if err := cfg.Parts[0].UnsealPart(NewLocalProvider(priv)); err != nil {
		t.Fatal(err)
	}

	if err := eb.Unlock(cfg); err != nil {
		t.Fatal(err)
	}

	clone := eb.Clone()

	assert.Equal(t, "clone starts locked", []byte(nil), clone.Key())
	assert.Equal(t, "clone's part starts unsealed=false", false, clone.Configs[0].Parts[0].Unsealed())
}
