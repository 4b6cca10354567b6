package llm

// costPerToken stores per-1K-token pricing: [input, output] in USD.
var costPerToken = map[string][2]float64{
	"gpt-4o":      {0.0025, 0.01},
	"gpt-4o-mini": {0.00015, 0.0006},
	"gpt-4.1":     {0.002, 0.008},

	"claude-3-5-haiku-latest":  {0.0008, 0.004},
	"claude-sonnet-4-20250514": {0.003, 0.015},
	"claude-opus-4-20250514":   {0.015, 0.075},
}

// costPerAudioMinute stores transcription pricing in USD per minute of audio.
var costPerAudioMinute = map[string]float64{
	"whisper-1":              0.006,
	"gpt-4o-transcribe":      0.006,
	"gpt-4o-mini-transcribe": 0.003,
}

func CalculateCost(model string, inputTokens, outputTokens int) float64 {
	prices, ok := costPerToken[model]
	if !ok {
		return 0
	}
	inputCost := float64(inputTokens) / 1000.0 * prices[0]
	outputCost := float64(outputTokens) / 1000.0 * prices[1]
	return inputCost + outputCost
}

func CalculateTranscriptionCost(model string, seconds float64) float64 {
	return costPerAudioMinute[model] * seconds / 60
}
