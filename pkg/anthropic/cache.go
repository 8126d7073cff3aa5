package anthropic

// BuildCachedSystemBlocks returns a single system block with a cache
// breakpoint. Scoring chunks of one campaign share the same system prompt,
// so every chunk after the first reads it from the cache.
func BuildCachedSystemBlocks(text, ttl string) []SystemBlock {
	return []SystemBlock{
		{
			Text:         text,
			CacheControl: &CacheControl{TTL: ttl},
		},
	}
}
