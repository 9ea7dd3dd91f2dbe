package agent

import "context"

// offTopicResponse acknowledges the message, states what the bot is
// for, and lists example questions it can answer.
const offTopicResponse = `I'm a database analytics assistant focused on the app portfolio, so I can't help with that. I can answer questions about the app data, for example:
- "How many apps do we have?"
- "Top 5 countries by total revenue"
- "Export the results as CSV"
- "Show me the SQL you used"

What would you like to know about the app portfolio?`

// OffTopic politely redirects messages outside the database domain.
// It uses no tools and no model call; the reply is canned.
type OffTopic struct{}

func NewOffTopic() *OffTopic { return &OffTopic{} }

func (a *OffTopic) Name() string { return "off_topic" }

func (a *OffTopic) Run(ctx context.Context, req Request) (*Result, error) {
	return &Result{Text: offTopicResponse}, nil
}
