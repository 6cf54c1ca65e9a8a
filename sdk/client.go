package sdk

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/everFinance/ensagent/schema"
	"gopkg.in/h2non/gentleman.v2"
)

type EnsAgentCli struct {
	SCli *gentleman.Client
}

func New(agentUrl string) *EnsAgentCli {
	return &EnsAgentCli{
		SCli: gentleman.New().URL(agentUrl),
	}
}

// ApiError is a non-2xx answer from the agent. Pending is set when a commit was
// already sent; keep it to finish the registration later.
type ApiError struct {
	StatusCode int
	schema.RespErr
}

func (e *ApiError) Error() string {
	return fmt.Sprintf("resp failed; http code: %d, errMsg: %s", e.StatusCode, e.Err)
}

func (a *EnsAgentCli) Health() (schema.RespHealth, error) {
	req := a.SCli.Get()
	req.Path("/api/health")
	res := schema.RespHealth{}
	err := send(req, &res)
	return res, err
}

func (a *EnsAgentCli) CheckAvailability(name string) (schema.RespAvailability, error) {
	req := a.SCli.Get()
	req.Path("/api/availability/" + url.PathEscape(name))
	res := schema.RespAvailability{}
	err := send(req, &res)
	return res, err
}

func (a *EnsAgentCli) BatchAvailability(names []string) ([]schema.RespAvailability, error) {
	req := a.SCli.Post()
	req.Path("/api/availability")
	req.JSON(schema.ReqBatchAvailability{Names: names})
	res := make([]schema.RespAvailability, 0, len(names))
	err := send(req, &res)
	return res, err
}

func (a *EnsAgentCli) GetPrice(name string, years float64) (schema.RespPrice, error) {
	req := a.SCli.Get()
	req.Path("/api/price/" + url.PathEscape(name))
	req.AddQuery("years", strconv.FormatFloat(years, 'f', -1, 64))
	res := schema.RespPrice{}
	err := send(req, &res)
	return res, err
}

// Register blocks for the whole commit and reveal cycle, a bit over a minute on a healthy chain.
func (a *EnsAgentCli) Register(r schema.ReqRegister) (schema.RespRegister, error) {
	req := a.SCli.Post()
	req.Path("/api/register")
	req.JSON(r)
	res := schema.RespRegister{}
	err := send(req, &res)
	return res, err
}

func send(req *gentleman.Request, out interface{}) error {
	resp, err := req.Send()
	if err != nil {
		return err
	}
	defer resp.Close()
	if !resp.Ok {
		apiErr := &ApiError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(resp.Bytes(), &apiErr.RespErr); err != nil || apiErr.Err == "" {
			apiErr.Err = resp.String()
		}
		return apiErr
	}
	return resp.JSON(out)
}
