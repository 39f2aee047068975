package llm

import "buddychat-go/internal/model"

// Params 是归一化后的采样参数，TopP / TopK 为 nil 时不发送。
type Params struct {
	MaxTokens   int
	Temperature float64
	TopP        *float64
	TopK        *int
}

type overlay struct {
	topP float64
	topK int
}

// samplingOverlays 是按模式与供应商叠加在温度之上的采样参数。
// Claude 只接收温度。
var samplingOverlays = map[model.ChatMode]map[model.Provider]overlay{
	model.ModeCoding: {
		model.ProviderGemini:  {topP: 0.95, topK: 40},
		model.ProviderMistral: {topP: 0.95},
	},
	model.ModePrecise: {
		model.ProviderGemini:  {topP: 0.75},
		model.ProviderMistral: {topP: 0.75},
	},
	model.ModeCreative: {
		model.ProviderGemini:  {topP: 0.98, topK: 60},
		model.ProviderMistral: {topP: 0.98},
	},
}

// ParamsFor 计算某个供应商在指定模式下的请求参数。
func ParamsFor(provider model.Provider, mode model.ChatMode, length model.ResponseLength, temperature float64) Params {
	p := Params{
		MaxTokens:   length.MaxTokens(),
		Temperature: temperature,
	}
	o, ok := samplingOverlays[mode][provider]
	if !ok {
		return p
	}
	if o.topP != 0 {
		topP := o.topP
		p.TopP = &topP
	}
	if o.topK != 0 {
		topK := o.topK
		p.TopK = &topK
	}
	return p
}
