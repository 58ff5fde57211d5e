// Package extract converts rendered article pages into structured records.
// It runs a prioritized chain of strategies over the markup and the script
// payloads the platform embeds, so minor markup drift degrades gracefully
// instead of failing outright.
package extract
