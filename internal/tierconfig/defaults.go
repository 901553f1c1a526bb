package tierconfig

import "github.com/iamade/litinkapp-sub002/internal/domain"

// Default returns the built-in chain table. Higher tiers lead with the
// stronger (more expensive) model; lower tiers lead with the cheaper one
// and fall back upward only when it is down.
func Default() (*Table, error) {
	return New(defaultChains())
}

func defaultChains() map[Key][]string {
	chains := map[Key][]string{}

	set := func(kind domain.ServiceKind, tier domain.Tier, ids ...string) {
		chains[Key{Kind: kind, Tier: tier}] = ids
	}

	set(domain.KindScript, domain.TierFree, "openai/gpt-4o-mini", "deepseek/deepseek-chat")
	set(domain.KindScript, domain.TierBasic, "openai/gpt-4o-mini", "anthropic/claude-3-5-haiku", "deepseek/deepseek-chat")
	set(domain.KindScript, domain.TierStandard, "openai/gpt-4o", "anthropic/claude-3-5-haiku", "deepseek/deepseek-chat")
	set(domain.KindScript, domain.TierPremium, "openai/gpt-4o", "anthropic/claude-3-5-sonnet", "deepseek/deepseek-chat")
	set(domain.KindScript, domain.TierProfessional, "anthropic/claude-3-5-sonnet", "openai/gpt-4o", "bedrock/claude-3-5-sonnet")
	set(domain.KindScript, domain.TierEnterprise, "anthropic/claude-3-5-sonnet", "bedrock/claude-3-5-sonnet", "openai/gpt-4o")

	set(domain.KindImage, domain.TierFree, "stability/sd3-medium", "openai/dall-e-2")
	set(domain.KindImage, domain.TierBasic, "stability/sd3-medium", "openai/dall-e-3", "bfl/flux-schnell")
	set(domain.KindImage, domain.TierStandard, "openai/dall-e-3", "stability/sd3-large", "bfl/flux-schnell")
	set(domain.KindImage, domain.TierPremium, "openai/dall-e-3", "bfl/flux-pro", "stability/sd3-large")
	set(domain.KindImage, domain.TierProfessional, "bfl/flux-pro", "openai/dall-e-3", "stability/sd3-large")
	set(domain.KindImage, domain.TierEnterprise, "bfl/flux-pro", "bedrock/titan-image-v2", "openai/dall-e-3")

	set(domain.KindVideo, domain.TierFree, "kling/kling-v1", "luma/dream-machine")
	set(domain.KindVideo, domain.TierBasic, "kling/kling-v1", "luma/dream-machine", "pika/pika-1.5")
	set(domain.KindVideo, domain.TierStandard, "kling/kling-v1.5", "luma/dream-machine", "pika/pika-1.5")
	set(domain.KindVideo, domain.TierPremium, "runway/gen-3", "kling/kling-v1.5", "luma/dream-machine")
	set(domain.KindVideo, domain.TierProfessional, "runway/gen-3", "luma/dream-machine", "kling/kling-v1.5")
	set(domain.KindVideo, domain.TierEnterprise, "runway/gen-3-turbo", "runway/gen-3", "luma/dream-machine")

	set(domain.KindAudio, domain.TierFree, "openai/tts-1", "playht/play-3.0-mini")
	set(domain.KindAudio, domain.TierBasic, "openai/tts-1", "elevenlabs/turbo-v2.5", "playht/play-3.0-mini")
	set(domain.KindAudio, domain.TierStandard, "elevenlabs/turbo-v2.5", "openai/tts-1-hd", "playht/play-3.0-mini")
	set(domain.KindAudio, domain.TierPremium, "elevenlabs/multilingual-v2", "openai/tts-1-hd", "playht/play-3.0")
	set(domain.KindAudio, domain.TierProfessional, "elevenlabs/multilingual-v2", "playht/play-3.0", "openai/tts-1-hd")
	set(domain.KindAudio, domain.TierEnterprise, "elevenlabs/multilingual-v2", "elevenlabs/turbo-v2.5", "openai/tts-1-hd")

	return chains
}
