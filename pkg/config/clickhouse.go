package config

import "time"

// ClickHouseConfig holds the parameters needed to reach the ClickHouse HTTP interface.
type ClickHouseConfig struct {
	URL         string `yaml:"url" json:"url"`
	Username    string `yaml:"username" json:"username"`
	Password    string `yaml:"password" json:"password"`
	Database    string `yaml:"database" json:"database"`
	TimeoutSecs int    `yaml:"timeout_secs" json:"timeout_secs"`
}

// Timeout returns the request timeout as a duration
func (c ClickHouseConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// Overrides replaces parts of a ClickHouseConfig for a single dump.
// A nil field means the key was not given.
type Overrides struct {
	URL         *string `yaml:"url,omitempty" json:"url,omitempty"`
	Username    *string `yaml:"username,omitempty" json:"username,omitempty"`
	Password    *string `yaml:"password,omitempty" json:"password,omitempty"`
	Database    *string `yaml:"database,omitempty" json:"database,omitempty"`
	TimeoutSecs *int    `yaml:"timeout_secs,omitempty" json:"timeout_secs,omitempty"`
}

// IsEmpty reports whether no key is overridden
func (o *Overrides) IsEmpty() bool {
	return o == nil || (o.URL == nil && o.Username == nil && o.Password == nil &&
		o.Database == nil && o.TimeoutSecs == nil)
}

// WithOverrides returns a copy of c where every key present in o replaces the base value.
// Values are taken as given; the URL is not validated here.
func (c ClickHouseConfig) WithOverrides(o *Overrides) ClickHouseConfig {
	if o == nil {
		return c
	}
	if o.URL != nil {
		c.URL = *o.URL
	}
	if o.Username != nil {
		c.Username = *o.Username
	}
	if o.Password != nil {
		c.Password = *o.Password
	}
	if o.Database != nil {
		c.Database = *o.Database
	}
	if o.TimeoutSecs != nil {
		c.TimeoutSecs = *o.TimeoutSecs
	}
	return c
}

// String returns a pointer to s, for building Overrides
func String(s string) *string { return &s }

// Int returns a pointer to i, for building Overrides
func Int(i int) *int { return &i }
