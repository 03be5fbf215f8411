package models

import "time"

// Profile is a named template bundle a job is instantiated from. Profiles are
// read-only to the execution engine.
type Profile struct {
	ID                string    `json:"id" badgerhold:"key" toml:"id"`
	Slug              string    `json:"slug" toml:"slug"`
	Name              string    `json:"name" toml:"name"`
	OSFamily          string    `json:"os_family" toml:"os_family"`
	OSVersion         string    `json:"os_version" toml:"os_version"`
	Category          string    `json:"category" toml:"category"`
	Description       string    `json:"description" toml:"description"`
	ScriptTemplate    string    `json:"script_template" toml:"script_template"`
	CloudInitTemplate string    `json:"cloud_init_template,omitempty" toml:"cloud_init_template"`
	CreatedAt         time.Time `json:"created_at" toml:"-"`
}

// HasCloudInit returns true when the profile carries a cloud-init template.
func (p *Profile) HasCloudInit() bool {
	return p.CloudInitTemplate != ""
}
