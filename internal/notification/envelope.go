package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/antonholmquist/jason"
)

// Data keys that carry the notification category inside untrusted envelopes,
// in lookup order.
var categoryKeys = []string{"category", "type", "notificationType"}

// DecodeEnvelope normalizes a raw platform push envelope into a Payload.
//
// Three shapes are recognized:
//
//	{"message": {...}}                          wrapper around any of the below
//	{"notification": {"title", "body", ...}, "data": {...}}   FCM style
//	{"aps": {"alert": ...}, "<custom>": ...}    APNs style, custom root keys are data
//	{"title", "body", "data": {...}}            flat
//
// The returned payload is always usable: on a decode error it is a general
// payload carrying the raw envelope under data["raw"] together with the error.
func DecodeEnvelope(raw []byte) (Payload, error) {
	obj, err := jason.NewObjectFromBytes(raw)
	if err != nil {
		p := Payload{
			Category: CategoryGeneral,
			Priority: PriorityDefault,
			Data:     map[string]any{"raw": string(raw)},
		}
		return p, fmt.Errorf("%w: undecodable envelope: %w", ErrInvalidPayload, err)
	}

	if inner, err := obj.GetObject("message"); err == nil {
		obj = inner
	}

	p := Payload{Data: make(map[string]any)}
	if data, err := obj.GetObject("data"); err == nil {
		for k, v := range data.Map() {
			p.Data[k] = plainValue(v)
		}
	}

	switch {
	case hasKey(obj, "notification"):
		decodeFCM(obj, &p)
	case hasKey(obj, "aps"):
		decodeAPNs(obj, &p)
	default:
		decodeFlat(obj, &p)
	}

	p.Category = ParseCategory(firstNonEmpty(categoryFromData(p), stringAt(obj, "category")))
	p.Priority = ParsePriority(firstNonEmpty(stringAt(obj, "priority"), stringAt(obj, "android", "priority")))
	if len(p.Data) == 0 {
		p.Data = nil
	}
	return p, nil
}

func decodeFCM(obj *jason.Object, p *Payload) {
	p.Title = stringAt(obj, "notification", "title")
	p.Body = stringAt(obj, "notification", "body")
	p.ImageURL = firstNonEmpty(
		stringAt(obj, "notification", "image"),
		stringAt(obj, "notification", "imageUrl"),
		stringAt(obj, "android", "notification", "image"),
	)
	p.Sound = firstNonEmpty(
		stringAt(obj, "notification", "sound"),
		stringAt(obj, "android", "notification", "sound"),
	)
}

func decodeAPNs(obj *jason.Object, p *Payload) {
	if alert, err := obj.GetString("aps", "alert"); err == nil {
		p.Body = alert
	} else {
		p.Title = stringAt(obj, "aps", "alert", "title")
		p.Body = stringAt(obj, "aps", "alert", "body")
		if sub := stringAt(obj, "aps", "alert", "subtitle"); sub != "" {
			p.LongText = sub
		}
	}
	p.Sound = stringAt(obj, "aps", "sound")

	for k, v := range obj.Map() {
		if k == "aps" || k == "data" {
			continue
		}
		if _, exists := p.Data[k]; !exists {
			p.Data[k] = plainValue(v)
		}
	}
}

func decodeFlat(obj *jason.Object, p *Payload) {
	p.Title = stringAt(obj, "title")
	p.Body = stringAt(obj, "body")
	p.LongText = stringAt(obj, "long_text")
	p.Sound = stringAt(obj, "sound")
	p.ImageURL = firstNonEmpty(stringAt(obj, "image_url"), stringAt(obj, "imageUrl"), stringAt(obj, "image"))

	if actions, err := obj.GetObjectArray("actions"); err == nil {
		for _, a := range actions {
			id, _ := a.GetString("id")
			label, _ := a.GetString("label")
			if id != "" {
				p.Actions = append(p.Actions, Action{ID: id, Label: label})
			}
		}
	}
}

// plainValue converts a jason value into plain Go data. Numbers stay
// json.Number so large ids survive unchanged.
func plainValue(v *jason.Value) any {
	b, err := v.Marshal()
	if err != nil {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil
	}
	return out
}

func categoryFromData(p Payload) string {
	for _, key := range categoryKeys {
		if v := p.DataString(key); v != "" {
			return v
		}
	}
	return ""
}

func hasKey(obj *jason.Object, key string) bool {
	_, err := obj.GetValue(key)
	return err == nil
}

func stringAt(obj *jason.Object, keys ...string) string {
	s, err := obj.GetString(keys...)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
