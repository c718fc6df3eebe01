package completion

import "go.uber.org/fx"

var Module = fx.Module("completion",
	fx.Provide(func(c *OpenAIClient) Provider { return c }),
	fx.Provide(NewOpenAIClient),
)
