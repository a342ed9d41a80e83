package httpapi_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queuey-io/queuey/internal/auth"
	"github.com/queuey-io/queuey/internal/httpapi"
	metamem "github.com/queuey-io/queuey/internal/metadata/memory"
	"github.com/queuey-io/queuey/internal/queue"
	storemem "github.com/queuey-io/queuey/internal/storage/memory"
)

func newServer(t *testing.T) (*httptest.Server, auth.KeyTable) {
	t.Helper()
	eng := queue.New(storemem.New(), metamem.New(), queue.Config{Replicas: 1}, nil)
	keys := auth.KeyTable{"testkey": "notty"}
	srv := httpapi.New(eng, keys, nil)
	return httptest.NewServer(srv.Handler()), keys
}

func authedRequest(method, url, body string) *http.Request {
	req, _ := http.NewRequest(method, url, strings.NewReader(body))
	req.Header.Set("Authorization", "Application testkey")
	return req
}

func decodeJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestCreatePushGetEndToEnd(t *testing.T) {
	ts, _ := newServer(t)
	defer ts.Close()
	client := ts.Client()

	req := authedRequest(http.MethodPost, ts.URL+"/v1/notty/", url.Values{}.Encode())
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := client.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeJSON(t, resp)
	queueName := created["queue_name"].(string)
	require.NotEmpty(t, queueName)

	pushReq := authedRequest(http.MethodPost, ts.URL+"/v1/notty/"+queueName, "hello")
	resp, err = client.Do(pushReq)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	pushed := decodeJSON(t, resp)
	messages := pushed["messages"].([]interface{})
	require.Len(t, messages, 1)
	first := messages[0].(map[string]interface{})
	assert.EqualValues(t, 1, first["partition"])
	assert.NotEmpty(t, first["key"])

	getReq := authedRequest(http.MethodGet, ts.URL+"/v1/notty/"+queueName, "")
	resp, err = client.Do(getReq)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeJSON(t, resp)
	gotMessages := got["messages"].([]interface{})
	require.Len(t, gotMessages, 1)
	assert.Equal(t, "hello", gotMessages[0].(map[string]interface{})["body"])
}

func TestUnauthenticatedApplicationTierDenied(t *testing.T) {
	ts, _ := newServer(t)
	defer ts.Close()
	client := ts.Client()

	resp, err := client.Post(ts.URL+"/v1/notty/", "application/x-www-form-urlencoded", strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestBadApplicationKeyRejected(t *testing.T) {
	ts, _ := newServer(t)
	defer ts.Close()
	client := ts.Client()

	req := authedRequest(http.MethodPost, ts.URL+"/v1/notty/", "")
	req.Header.Set("Authorization", "Application wrong-key")
	resp, err := client.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUpdatePartitionsMustNotDecrease(t *testing.T) {
	ts, _ := newServer(t)
	defer ts.Close()
	client := ts.Client()

	form := url.Values{"partitions": {"4"}, "queue_name": {"orders"}}
	req := authedRequest(http.MethodPost, ts.URL+"/v1/notty/", form.Encode())
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := client.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	downReq := authedRequest(http.MethodPut, ts.URL+"/v1/notty/orders", url.Values{"partitions": {"2"}}.Encode())
	downReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err = client.Do(downReq)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteQueueThenGetReturns404(t *testing.T) {
	ts, _ := newServer(t)
	defer ts.Close()
	client := ts.Client()

	form := url.Values{"queue_name": {"orders"}}
	req := authedRequest(http.MethodPost, ts.URL+"/v1/notty/", form.Encode())
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := client.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	delReq := authedRequest(http.MethodDelete, ts.URL+"/v1/notty/orders", "")
	resp, err = client.Do(delReq)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	getReq := authedRequest(http.MethodGet, ts.URL+"/v1/notty/orders", "")
	resp, err = client.Do(getReq)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBatchPushJSON(t *testing.T) {
	ts, _ := newServer(t)
	defer ts.Close()
	client := ts.Client()

	form := url.Values{"queue_name": {"orders"}, "partitions": {"3"}}
	req := authedRequest(http.MethodPost, ts.URL+"/v1/notty/", form.Encode())
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := client.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	batch := `{"messages":[{"body":"m1","partition":2},{"body":"m2","partition":2}]}`
	pushReq := authedRequest(http.MethodPost, ts.URL+"/v1/notty/orders", batch)
	pushReq.Header.Set("Content-Type", "application/json")
	resp, err = client.Do(pushReq)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	pushed := decodeJSON(t, resp)
	assert.Len(t, pushed["messages"].([]interface{}), 2)
}
