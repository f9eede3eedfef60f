package domain

var Tables = []interface{}{
	&Contact{},
	&Conversation{},
	&Message{},
	&ChannelIntegration{},
}
