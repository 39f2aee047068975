package model

// ChatMode 是控制采样温度与回复长度的命名预设。
type ChatMode string

const (
	ModeStandard ChatMode = "standard"
	ModeCreative ChatMode = "creative"
	ModePrecise  ChatMode = "precise"
	ModeCoding   ChatMode = "coding"
	ModeLearning ChatMode = "learning"
	ModeConcise  ChatMode = "concise"
)

// ResponseLength 是回复长度的档位。
type ResponseLength string

const (
	LengthShort  ResponseLength = "short"
	LengthMedium ResponseLength = "medium"
	LengthLong   ResponseLength = "long"
)

// MaxTokens 将长度档位映射为上游的最大输出 token 数，未知档位按 medium 处理。
func (l ResponseLength) MaxTokens() int {
	switch l {
	case LengthShort:
		return 300
	case LengthLong:
		return 2000
	default:
		return 1000
	}
}

// ModeProfile 描述一个模式下的请求参数与前置指令。
type ModeProfile struct {
	Temperature    float64
	ResponseLength ResponseLength
	Preamble       string
}

var modeProfiles = map[ChatMode]ModeProfile{
	ModeStandard: {Temperature: 0.7, ResponseLength: LengthMedium},
	ModeCreative: {
		Temperature:    0.9,
		ResponseLength: LengthMedium,
		Preamble:       "I want you to be creative, imaginative and expressive in your responses. Feel free to explore interesting ideas and unique angles.",
	},
	ModePrecise: {
		Temperature:    0.3,
		ResponseLength: LengthMedium,
		Preamble:       "I want you to be factual, precise, and concise. Focus on accuracy and clarity in your responses.",
	},
	ModeCoding: {
		Temperature:    0.5,
		ResponseLength: LengthMedium,
		Preamble:       "I want you to focus on providing code, technical explanations, and programming help. Use proper formatting for code blocks.",
	},
	ModeLearning: {
		Temperature:    0.6,
		ResponseLength: LengthLong,
		Preamble:       "I want you to explain concepts thoroughly in an educational manner. Break down complex topics and provide examples to help understanding.",
	},
	ModeConcise: {
		Temperature:    0.4,
		ResponseLength: LengthShort,
		Preamble:       "I want you to be brief and to the point. Provide short, direct answers without unnecessary details.",
	},
}

// Valid 判断模式是否为已知预设。
func (m ChatMode) Valid() bool {
	_, ok := modeProfiles[m]
	return ok
}

// Profile 返回模式对应的参数，未知模式回退到 standard。
func (m ChatMode) Profile() ModeProfile {
	if p, ok := modeProfiles[m]; ok {
		return p
	}
	return modeProfiles[ModeStandard]
}

// Normalize 将空或未知模式规范为 standard。
func (m ChatMode) Normalize() ChatMode {
	if m.Valid() {
		return m
	}
	return ModeStandard
}

// Compose 在用户输入前拼接模式前置指令；standard 模式原样返回。
func (m ChatMode) Compose(input string) string {
	preamble := m.Profile().Preamble
	if preamble == "" {
		return input
	}
	return preamble + "\n\nUser query: " + input
}

// APIKeys 是用户为各供应商填写的凭证，空字符串表示使用服务端默认凭证。
type APIKeys struct {
	Gemini  string `json:"gemini"`
	Claude  string `json:"claude"`
	Mistral string `json:"mistral"`
}

// For 返回指定供应商的凭证。
func (k APIKeys) For(provider Provider) string {
	switch provider {
	case ProviderGemini:
		return k.Gemini
	case ProviderClaude:
		return k.Claude
	case ProviderMistral:
		return k.Mistral
	default:
		return ""
	}
}

// IsZero 判断是否没有任何凭证。
func (k APIKeys) IsZero() bool {
	return k.Gemini == "" && k.Claude == "" && k.Mistral == ""
}

// Settings 是用户设置。仅展示相关的字段原样保存在 Preferences 中。
type Settings struct {
	ChatMode       ChatMode               `json:"chatMode"`
	DefaultModel   string                 `json:"defaultModel"`
	ResponseLength ResponseLength         `json:"responseLength"`
	Temperature    float64                `json:"temperature"`
	APIKeys        APIKeys                `json:"apiKeys"`
	Preferences    map[string]interface{} `json:"preferences,omitempty"`
}

// DefaultSettings 返回默认设置。
func DefaultSettings() Settings {
	p := ModeStandard.Profile()
	return Settings{
		ChatMode:       ModeStandard,
		DefaultModel:   string(ProviderGemini),
		ResponseLength: p.ResponseLength,
		Temperature:    p.Temperature,
	}
}

// WithMode 切换模式并同步温度与长度。
func (s Settings) WithMode(mode ChatMode) Settings {
	mode = mode.Normalize()
	p := mode.Profile()
	s.ChatMode = mode
	s.Temperature = p.Temperature
	s.ResponseLength = p.ResponseLength
	return s
}
