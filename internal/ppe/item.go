// Package ppe reduces raw personal protective equipment detections into a
// per-frame compliance verdict.
package ppe

import (
	"fmt"
	"strings"
)

// Item is a category of required equipment.
type Item string

const (
	Helmet Item = "helmet"
	Gloves Item = "gloves"
	Boots  Item = "boots"
	Jacket Item = "jacket"
)

// Items lists every item in reporting order.
var Items = []Item{Helmet, Gloves, Boots, Jacket}

// ParseItem maps a configuration key to an Item.
func ParseItem(s string) (Item, error) {
	item := Item(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Items {
		if item == known {
			return item, nil
		}
	}
	return "", fmt.Errorf("unknown PPE item %q", s)
}

// Title returns the display name, e.g. "Helmet".
func (i Item) Title() string {
	if i == "" {
		return ""
	}
	return strings.ToUpper(string(i[:1])) + string(i[1:])
}

// Requirements marks which items must be worn.
type Requirements map[Item]bool

// AllRequired requires every item.
func AllRequired() Requirements {
	r := make(Requirements, len(Items))
	for _, item := range Items {
		r[item] = true
	}
	return r
}

// RequirementsFromConfig converts item-name flags. Items missing from flags keep
// their default of required.
func RequirementsFromConfig(flags map[string]bool) (Requirements, error) {
	r := AllRequired()
	for name, required := range flags {
		item, err := ParseItem(name)
		if err != nil {
			return nil, err
		}
		r[item] = required
	}
	return r, nil
}

// Required returns the required items in reporting order.
func (r Requirements) Required() []Item {
	var out []Item
	for _, item := range Items {
		if r[item] {
			out = append(out, item)
		}
	}
	return out
}
