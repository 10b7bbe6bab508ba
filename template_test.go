package ebox

import (
	"testing"

	"github.com/codahale/gubbins/assert"
)

func mustKey(t *testing.T) *PrivateKey {
	t.Helper()

	priv, err := GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}

	return priv
}

func TestPrimaryConfigSinglePart(t *testing.T) {
	t.Parallel()

	tc := NewPrimaryConfig()

	if err := tc.AddPart(&TemplatePart{RecipientPubkey: mustKey(t).PublicKey()}); err != nil {
		t.Fatal(err)
	}

	if err := tc.AddPart(&TemplatePart{RecipientPubkey: mustKey(t).PublicKey()}); err == nil {
		t.Fatal("expected second part on a primary config to fail")
	} else if ee, ok := err.(*Error); !ok || ee.Kind != KindInvalidArg {
		t.Fatalf("expected invalid_arg, got %v", err)
	}
}

func TestRecoveryConfigThreshold(t *testing.T) {
	t.Parallel()

	tc := NewRecoveryConfig(2)
	for i := 0; i < 3; i++ {
		if err := tc.AddPart(&TemplatePart{RecipientPubkey: mustKey(t).PublicKey()}); err != nil {
			t.Fatal(err)
		}
	}

	if err := tc.SetThreshold(3); err != nil {
		t.Fatal(err)
	}

	assert.Equal(t, "threshold", uint8(3), tc.Threshold)

	if err := tc.SetThreshold(4); err == nil {
		t.Fatal("expected threshold exceeding part count to fail")
	}
}

func TestTemplatePartEquality(t *testing.T) {
	t.Parallel()

	pub := mustKey(t).PublicKey()
	guid := []byte("0123456789abcdef")
	slot := uint8(1)

	a := &TemplatePart{RecipientPubkey: pub, GUID: guid, SlotID: &slot}
	b := &TemplatePart{RecipientPubkey: pub, GUID: append([]byte(nil), guid...), SlotID: &slot}

	if !a.Equal(b) {
		t.Fatal("expected equal parts to compare equal")
	}

	other := uint8(2)
	c := &TemplatePart{RecipientPubkey: pub, GUID: guid, SlotID: &other}

	if a.Equal(c) {
		t.Fatal("expected differing slot_id to compare unequal")
	}
}

func TestTemplateSerializeRoundTrip(t *testing.T) {
	t.Parallel()

	tpl := NewTemplate()

	primary := NewPrimaryConfig()
	if err := primary.AddPart(&TemplatePart{RecipientPubkey: mustKey(t).PublicKey(), Name: "laptop"}); err != nil {
		t.Fatal(err)
	}

	if err := tpl.AddConfig(primary); err != nil {
		t.Fatal(err)
	}

	recovery := NewRecoveryConfig(2)
	for i := 0; i < 3; i++ {
		if err := recovery.AddPart(&TemplatePart{RecipientPubkey: mustKey(t).PublicKey()}); err != nil {
			t.Fatal(err)
		}
	}

	if err := tpl.AddConfig(recovery); err != nil {
		t.Fatal(err)
	}

	parsed, err := ParseTemplate(tpl.Serialize())
	if err != nil {
		t.Fatal(err)
	}

	assert.Equal(t, "config count", len(tpl.Configs), len(parsed.Configs))
	assert.Equal(t, "primary part name", tpl.Configs[0].Parts[0].Name, parsed.Configs[0].Parts[0].Name)
	assert.Equal(t, "recovery threshold", tpl.Configs[1].Threshold, parsed.Configs[1].Threshold)
	assert.Equal(t, "recovery part count", len(tpl.Configs[1].Parts), len(parsed.Configs[1].Parts))

	for i, part := range tpl.Configs[1].Parts {
		if !part.Equal(parsed.Configs[1].Parts[i]) {
			t.Fatalf("recovery part %d not equal after round trip", i)
		}
	}
}

func TestTemplateClone(t *testing.T) {
	t.Parallel()

	tpl := NewTemplate()

	primary := NewPrimaryConfig()
	if err := primary.AddPart(&TemplatePart{RecipientPubkey: mustKey(t).PublicKey()}); err != nil {
		t.Fatal(err)
	}

	if err := tpl.AddConfig(primary); err != nil {
		t.Fatal(err)
	}

	clone := tpl.Clone()
	clone.Configs[0].Parts[0].Name = "mutated"

	assert.Equal(t, "original part name unaffected by clone mutation", "", tpl.Configs[0].Parts[0].Name)
}
