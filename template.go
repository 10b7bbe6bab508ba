package ebox

import (
	"bytes"

	"github.com/joyent/ebox/internal/wire"
)

// templateMagic is the two-byte magic prefix for a serialized Template.
var templateMagic = [2]byte{0xEB, 0xDA}

const templateVersion = 1

// ConfigType distinguishes a single-hardware-token primary unlock from a
// k-of-n recovery config.
type ConfigType uint8

const (
	// ConfigPrimary is a single-part, single-holder unlock.
	ConfigPrimary ConfigType = 1
	// ConfigRecovery is a k-of-n threshold unlock.
	ConfigRecovery ConfigType = 2
)

const (
	partTagEnd          = 0
	partTagPubkey        = 1
	partTagName          = 2
	partTagCardAuthPubkey = 3
	partTagGUID          = 4
	partTagSlotID        = 5
)

// TemplatePart is a recipient entry in a config, identified primarily by
// its recipient public key. Two parts are equal iff their (guid, slot_id,
// pubkey) triples match.
type TemplatePart struct {
	RecipientPubkey *PublicKey
	GUID            []byte // 16 bytes, optional
	SlotID          *uint8 // optional
	Name            string // UTF-8, <=255 bytes, optional
	CardAuthPubkey  *PublicKey // optional
}

// Equal implements the (guid, slot_id, pubkey) equality rule from the spec.
func (p *TemplatePart) Equal(o *TemplatePart) bool {
	if p == nil || o == nil {
		return p == o
	}

	if !bytes.Equal(p.GUID, o.GUID) {
		return false
	}

	switch {
	case p.SlotID == nil && o.SlotID != nil, p.SlotID != nil && o.SlotID == nil:
		return false
	case p.SlotID != nil && o.SlotID != nil && *p.SlotID != *o.SlotID:
		return false
	}

	return p.RecipientPubkey.Equal(o.RecipientPubkey)
}

// clone returns a deep, independent copy of p.
func (p *TemplatePart) clone() *TemplatePart {
	c := &TemplatePart{
		RecipientPubkey: p.RecipientPubkey,
		Name:            p.Name,
		CardAuthPubkey:  p.CardAuthPubkey,
	}

	if p.GUID != nil {
		c.GUID = append([]byte(nil), p.GUID...)
	}

	if p.SlotID != nil {
		v := *p.SlotID
		c.SlotID = &v
	}

	return c
}

func (p *TemplatePart) putWire(w *wire.Writer) {
	pubBuf := wire.NewWriter()
	p.RecipientPubkey.putWire(pubBuf)
	w.PutField(partTagPubkey, pubBuf.Bytes())

	if p.Name != "" {
		w.PutField(partTagName, []byte(p.Name))
	}

	if p.CardAuthPubkey != nil {
		cakBuf := wire.NewWriter()
		p.CardAuthPubkey.putWire(cakBuf)
		w.PutField(partTagCardAuthPubkey, cakBuf.Bytes())
	}

	if p.GUID != nil {
		w.PutField(partTagGUID, p.GUID)
	}

	if p.SlotID != nil {
		w.PutField(partTagSlotID, []byte{*p.SlotID})
	}

	w.PutUint8(partTagEnd)
}

func getTemplatePartWire(r *wire.Reader) (*TemplatePart, error) {
	p := &TemplatePart{}

	err := r.Fields(func(tag byte, value []byte) error {
		switch tag {
		case partTagPubkey:
			pub, err := getPublicKeyWire(wire.NewReader(value))
			if err != nil {
				return err
			}
			p.RecipientPubkey = pub
		case partTagName:
			p.Name = string(value)
		case partTagCardAuthPubkey:
			pub, err := getPublicKeyWire(wire.NewReader(value))
			if err != nil {
				return err
			}
			p.CardAuthPubkey = pub
		case partTagGUID:
			p.GUID = append([]byte(nil), value...)
		case partTagSlotID:
			if len(value) != 1 {
				return newErr(KindInvalidFormat, "slot_id must be 1 byte")
			}
			v := value[0]
			p.SlotID = &v
		}
		// Unknown tags are simply not handled above, which is the
		// skip-on-decode rule.
		return nil
	})
	if err != nil {
		return nil, err
	}

	if p.RecipientPubkey == nil {
		return nil, newErr(KindInvalidFormat, "template part missing recipient pubkey")
	}

	return p, nil
}

// TemplateConfig is either a PRIMARY config (exactly one part, threshold 1)
// or a RECOVERY config (1 <= threshold <= len(parts) <= 255).
type TemplateConfig struct {
	Type      ConfigType
	Threshold uint8
	Parts     []*TemplatePart
}

// NewPrimaryConfig returns an empty PRIMARY config. A single part must be
// added with AddPart before the template is used.
func NewPrimaryConfig() *TemplateConfig {
	return &TemplateConfig{Type: ConfigPrimary, Threshold: 1}
}

// NewRecoveryConfig returns an empty RECOVERY config with the given
// threshold. Parts must be added with AddPart; SetThreshold can adjust the
// threshold later, as long as it never exceeds the number of parts.
func NewRecoveryConfig(threshold uint8) *TemplateConfig {
	return &TemplateConfig{Type: ConfigRecovery, Threshold: threshold}
}

// AddPart appends a part to the config. For a PRIMARY config, at most one
// part may ever be added.
func (c *TemplateConfig) AddPart(part *TemplatePart) error {
	if c.Type == ConfigPrimary && len(c.Parts) >= 1 {
		return newErr(KindInvalidArg, "primary config may only have one part")
	}

	if len(c.Parts) >= 255 {
		return newErr(KindInvalidArg, "config may not have more than 255 parts")
	}

	c.Parts = append(c.Parts, part)

	return nil
}

// SetThreshold sets the k-of-n threshold for a RECOVERY config. It fails on
// a PRIMARY config, or if n exceeds the current number of parts.
func (c *TemplateConfig) SetThreshold(n uint8) error {
	if c.Type == ConfigPrimary {
		return newErr(KindInvalidArg, "cannot set threshold on a primary config")
	}

	if n < 1 || int(n) > len(c.Parts) {
		return newErr(KindInvalidArg, "threshold out of range")
	}

	c.Threshold = n

	return nil
}

// validate checks the cardinality invariants from the spec's data model.
func (c *TemplateConfig) validate() error {
	switch c.Type {
	case ConfigPrimary:
		if len(c.Parts) != 1 || c.Threshold != 1 {
			return newErr(KindInvalidArg, "primary config must have exactly one part and threshold 1")
		}
	case ConfigRecovery:
		if len(c.Parts) == 0 || len(c.Parts) > 255 {
			return newErr(KindInvalidArg, "recovery config must have between 1 and 255 parts")
		}

		if c.Threshold < 1 || int(c.Threshold) > len(c.Parts) {
			return newErr(KindInvalidArg, "recovery threshold out of range")
		}
	default:
		return newErr(KindInvalidArg, "unknown config type")
	}

	return nil
}

func (c *TemplateConfig) clone() *TemplateConfig {
	parts := make([]*TemplatePart, len(c.Parts))
	for i, p := range c.Parts {
		parts[i] = p.clone()
	}

	return &TemplateConfig{Type: c.Type, Threshold: c.Threshold, Parts: parts}
}

func (c *TemplateConfig) putWire(w *wire.Writer) {
	w.PutUint8(uint8(c.Type))
	w.PutUint8(uint8(len(c.Parts)))
	w.PutUint8(c.Threshold)

	for _, p := range c.Parts {
		p.putWire(w)
	}
}

func getTemplateConfigWire(r *wire.Reader) (*TemplateConfig, error) {
	typ, err := r.GetUint8()
	if err != nil {
		return nil, err
	}

	nparts, err := r.GetUint8()
	if err != nil {
		return nil, err
	}

	threshold, err := r.GetUint8()
	if err != nil {
		return nil, err
	}

	parts := make([]*TemplatePart, nparts)
	for i := range parts {
		p, err := getTemplatePartWire(r)
		if err != nil {
			return nil, err
		}
		parts[i] = p
	}

	c := &TemplateConfig{Type: ConfigType(typ), Threshold: threshold, Parts: parts}
	if err := c.validate(); err != nil {
		return nil, newErr(KindInvalidFormat, "config failed validation: "+err.Error())
	}

	return c, nil
}

// Template is the immutable (once sealed) description of a recovery
// policy: an ordered list of configs.
type Template struct {
	Version uint8
	Configs []*TemplateConfig
}

// NewTemplate returns an empty template.
func NewTemplate() *Template {
	return &Template{Version: templateVersion}
}

// AddConfig appends a config to the template, after validating its
// cardinality invariants.
func (t *Template) AddConfig(c *TemplateConfig) error {
	if err := c.validate(); err != nil {
		return err
	}

	t.Configs = append(t.Configs, c)

	return nil
}

// Clone returns a deep, independent copy of t.
func (t *Template) Clone() *Template {
	configs := make([]*TemplateConfig, len(t.Configs))
	for i, c := range t.Configs {
		configs[i] = c.clone()
	}

	return &Template{Version: t.Version, Configs: configs}
}

// Serialize encodes the template per the spec's wire format.
func (t *Template) Serialize() []byte {
	w := wire.NewWriter()
	w.PutUint8(templateMagic[0])
	w.PutUint8(templateMagic[1])
	w.PutUint8(t.Version)
	w.PutUint8(uint8(len(t.Configs)))

	for _, c := range t.Configs {
		c.putWire(w)
	}

	return w.Bytes()
}

// ParseTemplate decodes a template previously produced by Serialize.
func ParseTemplate(buf []byte) (*Template, error) {
	r := wire.NewReader(buf)

	m0, err := r.GetUint8()
	if err != nil {
		return nil, err
	}

	m1, err := r.GetUint8()
	if err != nil {
		return nil, err
	}

	if m0 != templateMagic[0] || m1 != templateMagic[1] {
		return nil, newErr(KindInvalidFormat, "bad template magic")
	}

	version, err := r.GetUint8()
	if err != nil {
		return nil, err
	}

	if version != templateVersion {
		return nil, newErr(KindUnsupportedVersion, "unsupported template version")
	}

	nconfigs, err := r.GetUint8()
	if err != nil {
		return nil, err
	}

	configs := make([]*TemplateConfig, nconfigs)
	for i := range configs {
		c, err := getTemplateConfigWire(r)
		if err != nil {
			return nil, err
		}
		configs[i] = c
	}

	return &Template{Version: version, Configs: configs}, nil
}
