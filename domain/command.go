package domain

// Command is an intent coming from a party, either over HTTP or the live channel.
type Command interface {
	Issuer() string
}

type SendMessageCommand struct {
	SenderID   string `validate:"required"`
	ReceiverID string `validate:"required,nefield=SenderID"`
	Content    string `validate:"required"`
}

func (c SendMessageCommand) Issuer() string { return c.SenderID }

type TypingCommand struct {
	ConversationID string `validate:"required"`
	SenderID       string `validate:"required"`
	ReceiverID     string `validate:"required,nefield=SenderID"`
}

func (c TypingCommand) Issuer() string { return c.SenderID }

type MarkReadCommand struct {
	ConversationID string `validate:"required"`
	ReaderID       string `validate:"required"`
}

func (c MarkReadCommand) Issuer() string { return c.ReaderID }
