// Package persona holds the fixed set of philosopher personas and the
// conversation keys derived from them.
package persona

import (
	"strings"

	"github.com/private-symposium-go/internal/models"
)

// RoundTableKey is the conversation key used for round-table mode
const RoundTableKey = "roundtable"

// DefaultID is the persona used when a request names none
const DefaultID = "eudora"

// Persona is one conversational identity
type Persona struct {
	ID     string
	Name   string
	Glyph  string
	Prompt string
}

var builtin = []Persona{
	{
		ID:     "eudora",
		Name:   "Eudora",
		Glyph:  "🕯️",
		Prompt: "你是Eudora（尤多拉·灵），融合了苏格拉底、柏拉图与亚里士多德的哲学精髓。你温和追问，引导对方自我发现。说话风格：温和但思维锐利，善用反问和隐喻。",
	},
	{
		ID:     "liming",
		Name:   "Li Ming",
		Glyph:  "📜",
		Prompt: "你是Li Ming（李明·衡），融合了孔子、康德与黑格尔的道德智慧。你庄重而温暖，强调责任与修养。说话风格：引用经典，注重道德价值。",
	},
	{
		ID:     "zephyr",
		Name:   "Zephyr",
		Glyph:  "🍃",
		Prompt: "你是Zephyr（泽菲尔·遥），融合了老子、尼采与海德格尔的存在哲学。你诗意自由，打破常规。说话风格：诗意隐喻，挑战既定价值。",
	},
	{
		ID:     "kairos",
		Name:   "Kairos",
		Glyph:  "⚡",
		Prompt: "你是Kairos（凯罗斯·变），继承了马克思的批判精神。你锐利真诚，解剖权力结构。说话风格：直接点名结构性根源。",
	},
}

const roundTablePrompt = `这是一个私人智囊团的圆桌会议。

四位哲学家——Eudora（古希腊理性）、Li Ming（道德律令）、Zephyr（存在超越）、Kairos（批判变革）——将同时聆听你的问题，并从各自的角度提供见解。

会议规则：
1. 每位顾问依次发言，展示其独特的哲学视角
2. 观点可以相互补充，也可以形成张力
3. 最后由你（用户）综合这些智慧，形成自己的判断
4. 每位顾问的发言前标注："🕯️ Eudora:" 或 "📜 Li Ming:" 等`

// Registry resolves personas and conversation keys
type Registry struct {
	personas         map[string]Persona
	order            []string
	roundTablePrompt string
}

// NewRegistry builds the registry, replacing built-in prompts with any
// non-empty override keyed by persona id or RoundTableKey
func NewRegistry(overrides map[string]string) *Registry {
	r := &Registry{
		personas:         make(map[string]Persona, len(builtin)),
		roundTablePrompt: roundTablePrompt,
	}

	for _, p := range builtin {
		if prompt := strings.TrimSpace(overrides[p.ID]); prompt != "" {
			p.Prompt = prompt
		}
		r.personas[p.ID] = p
		r.order = append(r.order, p.ID)
	}
	if prompt := strings.TrimSpace(overrides[RoundTableKey]); prompt != "" {
		r.roundTablePrompt = prompt
	}

	return r
}

// Get returns the persona with the given id
func (r *Registry) Get(id string) (Persona, bool) {
	p, ok := r.personas[id]
	return p, ok
}

// All returns the personas in display order
func (r *Registry) All() []Persona {
	out := make([]Persona, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.personas[id])
	}
	return out
}

// ConversationKey resolves the log key for a turn. In round-table mode the
// persona id is ignored; otherwise it must name a known persona.
func (r *Registry) ConversationKey(personaID string, roundTable bool) (string, error) {
	if roundTable {
		return RoundTableKey, nil
	}
	if personaID == "" {
		personaID = DefaultID
	}
	if _, ok := r.personas[personaID]; !ok {
		return "", models.Validationf("unknown character %q", personaID)
	}
	return personaID, nil
}

// ValidKey reports whether key names a persona log or the round-table log
func (r *Registry) ValidKey(key string) bool {
	if key == RoundTableKey {
		return true
	}
	_, ok := r.personas[key]
	return ok
}

// SeedPrompt returns the system prompt that opens a new log for key
func (r *Registry) SeedPrompt(key string) string {
	if key == RoundTableKey {
		return r.roundTablePrompt
	}
	if p, ok := r.personas[key]; ok {
		return p.Prompt
	}
	return r.personas[DefaultID].Prompt
}

// ByName finds a persona by display name, ignoring case and whitespace
// differences ("Li Ming", "li  ming")
func (r *Registry) ByName(name string) (Persona, bool) {
	want := normalizeName(name)
	for _, id := range r.order {
		p := r.personas[id]
		if normalizeName(p.Name) == want {
			return p, true
		}
	}
	return Persona{}, false
}

func normalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), ""))
}
