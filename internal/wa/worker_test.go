package wa

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MatheusHenriquePires/S-crm/internal/domain"
)

func cloudPayload(phoneNumberID, wamid, from, text string) map[string]interface{} {
	return map[string]interface{}{
		"object": "whatsapp_business_account",
		"entry": []interface{}{
			map[string]interface{}{
				"id": "WABA_ID",
				"changes": []interface{}{
					map[string]interface{}{
						"field": "messages",
						"value": map[string]interface{}{
							"messaging_product": "whatsapp",
							"metadata": map[string]interface{}{
								"display_phone_number": "5511999990000",
								"phone_number_id":      phoneNumberID,
							},
							"contacts": []interface{}{
								map[string]interface{}{
									"wa_id":   from,
									"profile": map[string]interface{}{"name": "Maria"},
								},
							},
							"messages": []interface{}{
								map[string]interface{}{
									"id":        wamid,
									"from":      from,
									"timestamp": "1714000000",
									"type":      "text",
									"text":      map[string]interface{}{"body": text},
								},
							},
						},
					},
				},
			},
		},
	}
}

func TestDecodeCloudWebhook(t *testing.T) {
	phoneID, raw, name := DecodeCloudWebhook(cloudPayload("pn-1", "wamid.W1", "5511888887777", "opa"))
	require.NotNil(t, raw)
	assert.Equal(t, "pn-1", phoneID)
	assert.Equal(t, "Maria", name)
	assert.Equal(t, "opa", raw["body"])
	assert.Equal(t, "wamid.W1", ExtractProviderMessageID(raw))

	phoneID, raw, _ = DecodeCloudWebhook(map[string]interface{}{"object": "whatsapp_business_account"})
	assert.Empty(t, phoneID)
	assert.Nil(t, raw)
}

func TestHandleCloudWebhookRoutesToAccount(t *testing.T) {
	svc, st, _, _ := newTestEnv(t)
	ctx := context.Background()

	_, err := st.SaveCloudIntegration(ctx, "acc1", "pn-1", "vt-1", "", "")
	require.NoError(t, err)

	require.NoError(t, svc.HandleCloudWebhook(ctx, cloudPayload("pn-1", "wamid.W1", "5511888887777", "opa")))

	require.Eventually(t, func() bool {
		convs, err := st.ListConversationsSince(ctx, "acc1", nil)
		return err == nil && len(convs) == 1
	}, 3*time.Second, 20*time.Millisecond)

	convs, err := st.ListConversationsSince(ctx, "acc1", nil)
	require.NoError(t, err)
	contact, err := st.GetContact(ctx, convs[0].ContactID)
	require.NoError(t, err)
	assert.Equal(t, "5511888887777", contact.PhoneE164)
	assert.Equal(t, "Maria", contact.Name)

	// first routed delivery activates the integration
	integ, err := st.GetIntegration(ctx, "acc1")
	require.NoError(t, err)
	assert.Equal(t, domain.IntegrationStatusConnected, integ.Status)
}

func TestHandleCloudWebhookDoubleDeliveryOneRow(t *testing.T) {
	svc, st, _, _ := newTestEnv(t)
	ctx := context.Background()

	_, err := st.SaveCloudIntegration(ctx, "acc1", "pn-1", "vt-1", "", "")
	require.NoError(t, err)

	payload := cloudPayload("pn-1", "wamid.W2", "5511888887777", "dup test")
	require.NoError(t, svc.HandleCloudWebhook(ctx, payload))
	require.NoError(t, svc.HandleCloudWebhook(ctx, payload))

	require.Eventually(t, func() bool {
		convs, err := st.ListConversationsSince(ctx, "acc1", nil)
		return err == nil && len(convs) == 1
	}, 3*time.Second, 20*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	convs, err := st.ListConversationsSince(ctx, "acc1", nil)
	require.NoError(t, err)
	msgs, err := st.ListMessagesSince(ctx, convs[0].ID, nil)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestHandleCloudWebhookUnknownPhoneNumberID(t *testing.T) {
	svc, st, _, _ := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, svc.HandleCloudWebhook(ctx, cloudPayload("pn-unknown", "wamid.W3", "5511888887777", "lost")))
	time.Sleep(50 * time.Millisecond)

	convs, err := st.ListConversationsSince(ctx, "acc1", nil)
	require.NoError(t, err)
	assert.Empty(t, convs)
}

func TestProcessIncomingMessageEntryPoint(t *testing.T) {
	svc, st, _, _ := newTestEnv(t)

	require.NoError(t, svc.ProcessIncomingMessage("acc1", inboundRaw("wamid.Q1", "5511999990000", "fila", time.Now())))

	convs, err := st.ListConversationsSince(context.Background(), "acc1", nil)
	require.NoError(t, err)
	assert.Len(t, convs, 1)
}
