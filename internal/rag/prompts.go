package rag

import "fmt"

// systemPrompt grounds the model in retrieved context and nothing else.
const systemPrompt = `You are a helpful assistant that answers questions based on provided document context.

When answering:
1. Use ONLY the information provided in the context
2. If the context doesn't contain relevant information, clearly state that
3. Cite specific parts of the context when possible
4. Be accurate and don't make assumptions beyond the provided context
5. Format your response clearly with proper markdown

Context format: Each piece of context will be marked with [Source: filename] followed by the content.`

// userPrompt pairs the question with the retrieved context block.
func userPrompt(query, context string) string {
	return fmt.Sprintf(`Question: %s

Context from documents:
%s

Please answer the question based on the provided context.`, query, context)
}

// Canned markdown answers for the three failure shapes a query can hit.
// They are served as normal responses so chat clients render guidance
// instead of a bare error string.
const (
	noResultsResponse = `# 📚 No Relevant Information Found

I wasn't able to find any information about your question in the current knowledge base.

## 💡 **What this means:**
- Your question may be about topics not covered in the uploaded documents
- The knowledge base may need additional documents related to your query

## 🔍 **What you can try:**
- **Upload relevant documents** if you have specific materials related to your question
- **Rephrase your question** to match terminology that might be in the documents
- **Ask about topics** that are covered in the knowledge base

## 📋 **Available Knowledge Areas:**
The current knowledge base contains regulatory documents including Basel III, COREP, FINREP templates, and related compliance materials.`

	generationFailureResponse = `# ⚠️ Unable to Generate Response

I found relevant information in the knowledge base, but encountered an issue while preparing the response.

## 🔄 **Please try:**
- **Ask your question again** - this might be a temporary issue
- **Rephrase your question** in a different way
- **Check your internet connection** if using external AI services

The system administrators have been notified of this issue.`

	systemIssueResponse = `# 🔧 System Issue Encountered

I experienced a technical issue while processing your question.

## 🔄 **Please try:**
- **Ask your question again** - this might be a temporary issue
- **Wait a moment and retry** - the system may be temporarily busy
- **Ensure your API key is valid** if using external AI services

## 📞 **Need help?**
If this problem persists, please contact support with details about your question.

The technical team has been automatically notified of this issue.`
)

const (
	noResultsMetadata   = "No relevant documents found"
	systemIssueMetadata = "System error occurred"
)

func noResultsResult() *Result {
	return &Result{
		Response: noResultsResponse,
		Sources:  []string{},
		Metadata: noResultsMetadata,
	}
}

func systemIssueResult() *Result {
	return &Result{
		Response: systemIssueResponse,
		Sources:  []string{},
		Metadata: systemIssueMetadata,
	}
}
