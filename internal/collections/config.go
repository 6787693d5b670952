package collections

// Config controls collection listing and context assembly.
type Config struct {
	ListPageSize    int32 `toml:"list_page_size"`
	MaxContextBytes int   `toml:"max_context_bytes"`
}

func (c *Config) Finalize() {
	if c.ListPageSize <= 0 {
		c.ListPageSize = 100
	}

	if c.MaxContextBytes < 0 {
		c.MaxContextBytes = 0
	}
}

func (c *Config) Merge(other Config) {
	if other.ListPageSize > 0 {
		c.ListPageSize = other.ListPageSize
	}

	if other.MaxContextBytes > 0 {
		c.MaxContextBytes = other.MaxContextBytes
	}
}
