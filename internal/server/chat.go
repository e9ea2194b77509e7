package server

import (
	"github.com/gin-gonic/gin"

	"github.com/ovokpus/regcopilot/internal/chat"
	"github.com/ovokpus/regcopilot/internal/rag"
	"github.com/ovokpus/regcopilot/internal/regulatory"
)

// formattingPrompt is the system message for plain chat. The endpoint
// always uses it; the caller only supplies the question.
const formattingPrompt = `You are a helpful AI assistant that creates beautifully formatted, professional responses.

📋 **FORMATTING EXCELLENCE RULES:**

**STRUCTURE & HEADERS:**
- Start with a clear, descriptive title using # for main topics
- Use ## for major sections and ### for subsections
- Create logical information hierarchy with proper nesting

**TEXT FORMATTING:**
- **Bold** for key concepts, important terms, and section highlights
- *Italics* for emphasis, definitions, or secondary information
- ` + "`Code formatting`" + ` for technical terms, formulas, or specific values
- Use > blockquotes for important notes or warnings

**LISTS & ORGANIZATION:**
- Use numbered lists (1. 2. 3.) for sequential steps or ranked items
- Use bullet points (•) for related items or features
- Create sub-bullets with proper indentation for detailed breakdowns
- Add spacing between list sections for readability

**MATHEMATICAL EXPRESSIONS:**
- Inline math: $expression$ for simple formulas within text
- Display math: $$expression$$ for complex formulas on separate lines
- NEVER use brackets [ ] or parentheses ( ) around math expressions
- Always use proper LaTeX syntax within markdown delimiters

**VISUAL ENHANCEMENTS:**
- Use emojis sparingly but effectively (📊 for data, 💡 for insights, ⚠️ for warnings)
- Create tables using markdown table syntax when presenting structured data
- Add horizontal rules (---) to separate major sections
- Use proper spacing between paragraphs and sections

**EXAMPLES:**
✅ EXCELLENT:
# Capital Requirements Analysis
## **Key Components**
### 📊 Tier 1 Capital
- **Common Equity Tier 1 (CET1)**: Use proper LaTeX math notation for formulas

❌ POOR: The CET1 ratio is [CET1 Capital / RWA * 100%]

Create responses that are visually appealing, easy to scan, and professionally structured.`

// System prompts for chat requests that opt out of retrieval.
const (
	plainAssistantPrompt  = "You are a helpful assistant."
	plainRegulatoryPrompt = "You are a helpful regulatory compliance assistant."
)

type chatRequest struct {
	UserMessage string `json:"user_message"`
	Model       string `json:"model"`
	APIKey      string `json:"api_key"`
}

type ragChatRequest struct {
	UserMessage string `json:"user_message"`
	SessionID   string `json:"session_id"`
	Model       string `json:"model"`
	APIKey      string `json:"api_key"`
	UseRAG      *bool  `json:"use_rag"`
}

type regulatoryChatRequest struct {
	UserMessage     string   `json:"user_message"`
	SessionID       string   `json:"session_id"`
	Model           string   `json:"model"`
	APIKey          string   `json:"api_key"`
	UseRAG          *bool    `json:"use_rag"`
	UserRole        string   `json:"user_role"`
	DocTypes        []string `json:"doc_types"`
	PrioritySources []string `json:"priority_sources"`
}

// useRAG defaults to true when the request leaves the flag unset.
func useRAG(flag *bool) bool {
	return flag == nil || *flag
}

// handleChat is POST /api/chat: a formatted completion without retrieval,
// streamed paragraph by paragraph.
func (h *Handlers) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, invalidRequest(err))
		return
	}
	apiKey, err := h.resolveAPIKey(req.APIKey)
	if err != nil {
		writeError(c, err)
		return
	}

	client := h.chatClients(apiKey, h.resolveModel(req.Model))
	defer client.Close()

	streamHeaders(c)
	answer, err := client.Complete(c.Request.Context(), []chat.Message{
		chat.System(formattingPrompt),
		chat.User(req.UserMessage),
	})
	if err != nil {
		streamFail(c, err)
		return
	}
	if answer == "" {
		answer = "No response generated"
	}
	_ = rag.StreamParagraphs(answer, flushWriter(c))
}

// handleRAGChat is POST /api/rag-chat: answers grounded in the shared
// knowledge base, streamed paragraph by paragraph.
func (h *Handlers) handleRAGChat(c *gin.Context) {
	var req ragChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, invalidRequest(err))
		return
	}
	apiKey, err := h.resolveAPIKey(req.APIKey)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.kb.Bind(c.Request.Context(), apiKey); err != nil {
		writeError(c, err)
		return
	}
	h.sessions.GetOrCreate(req.SessionID, apiKey)

	client := h.chatClients(apiKey, h.resolveModel(req.Model))
	defer client.Close()

	streamHeaders(c)
	emit := flushWriter(c)

	if !useRAG(req.UseRAG) {
		err := client.Stream(c.Request.Context(), []chat.Message{
			chat.System(plainAssistantPrompt),
			chat.User(req.UserMessage),
		}, emit)
		if err != nil {
			streamFail(c, err)
		}
		return
	}

	pipeline, err := rag.NewPipeline(h.kb, client,
		rag.WithTopK(h.cfg.Retrieval.TopK),
		rag.WithMetrics(h.metrics),
		rag.WithLogger(h.logger))
	if err != nil {
		streamFail(c, err)
		return
	}
	if _, err := pipeline.Stream(c.Request.Context(), req.UserMessage, h.cfg.Retrieval.TopK, emit); err != nil {
		streamFail(c, err)
	}
}

// handleRegulatoryChat is POST /api/regulatory-rag-chat: role-aware
// answers with regulatory re-ranking and citations.
func (h *Handlers) handleRegulatoryChat(c *gin.Context) {
	var req regulatoryChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, invalidRequest(err))
		return
	}
	apiKey, err := h.resolveAPIKey(req.APIKey)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.kb.Bind(c.Request.Context(), apiKey); err != nil {
		writeError(c, err)
		return
	}
	h.sessions.GetOrCreate(req.SessionID, apiKey)

	client := h.chatClients(apiKey, h.resolveModel(req.Model))
	defer client.Close()

	streamHeaders(c)
	emit := flushWriter(c)

	if !useRAG(req.UseRAG) {
		err := client.Stream(c.Request.Context(), []chat.Message{
			chat.System(plainRegulatoryPrompt),
			chat.User(req.UserMessage),
		}, emit)
		if err != nil {
			streamFail(c, err)
		}
		return
	}

	enhancer, err := regulatory.NewEnhancer(h.kb, client,
		regulatory.WithTopK(h.cfg.Retrieval.TopK),
		regulatory.WithOverFetch(h.cfg.Retrieval.OverFetch),
		regulatory.WithWeights(h.cfg.Retrieval.CosineWeight, h.cfg.Retrieval.RegulatoryWeight),
		regulatory.WithPriorityBoost(h.cfg.Retrieval.PriorityBoost),
		regulatory.WithMetrics(h.metrics),
		regulatory.WithLogger(h.logger))
	if err != nil {
		streamFail(c, err)
		return
	}

	query := regulatory.Query{
		Text:            req.UserMessage,
		Role:            regulatory.NormalizeRole(req.UserRole),
		K:               h.cfg.Retrieval.TopK,
		DocTypes:        req.DocTypes,
		PrioritySources: req.PrioritySources,
	}
	if _, err := enhancer.Stream(c.Request.Context(), query, emit); err != nil {
		streamFail(c, err)
	}
}
