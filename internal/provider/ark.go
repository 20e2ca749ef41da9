package provider

import (
	"context"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/jhyang-dev/reverie/backend/internal/pkg/logger"
)

// Ark wraps an eino chat model bound to the Volcano Ark backend. The concrete
// model name is fixed at construction time by the Ark configuration, so the
// routed model id is ignored here.
type Ark struct {
	chatModel model.ChatModel
	log       *logger.Logger
}

// NewArk builds the Ark adapter around an already-configured chat model.
func NewArk(chatModel model.ChatModel, log *logger.Logger) *Ark {
	return &Ark{
		chatModel: chatModel,
		log:       log.With("provider", "ark"),
	}
}

func (a *Ark) Name() string { return "ark" }

func (a *Ark) Invoke(ctx context.Context, messages []Message, _ string) (string, error) {
	input := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			input = append(input, schema.SystemMessage(msg.Content))
		case RoleAssistant:
			input = append(input, schema.AssistantMessage(msg.Content, nil))
		default:
			input = append(input, schema.UserMessage(msg.Content))
		}
	}

	response, err := a.chatModel.Generate(ctx, input)
	if err != nil {
		return "", &Error{Provider: a.Name(), Message: err.Error()}
	}

	a.log.Debug("completion received", "length", len(response.Content))
	return response.Content, nil
}
