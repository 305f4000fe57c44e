package logic

import (
	"time"

	"github.com/blues/greensalary/internal/model"
	"github.com/blues/greensalary/internal/window"
)

type Period struct {
	StartDate *time.Time `json:"startDate"`
	EndDate   *time.Time `json:"endDate"`
}

type Media struct {
	MinTextLength int `json:"minTextLength"`
	MinImageCount int `json:"minImageCount"`
}

// ContractDetail is the read model shared by the advertiser, influencer and
// admin views of a contract.
type ContractDetail struct {
	Id              string        `json:"id"`
	Title           string        `json:"title"`
	Reward          model.Wei     `json:"reward"`
	Recruits        int           `json:"recruits"`
	Participants    int           `json:"participants"`
	UploadPeriod    Period        `json:"uploadPeriod"`
	MaintainPeriod  Period        `json:"maintainPeriod"`
	Keywords        []string      `json:"keywords"`
	Conditions      []string      `json:"conditions"`
	Site            string        `json:"site"`
	Media           Media         `json:"media"`
	Description     string        `json:"description"`
	PhotoUrl        string        `json:"photo_url"`
	Status          window.Status `json:"status"`
	AccessCode      string        `json:"accessCode,omitempty"`
	SmartContractId int64         `json:"smartContractId"`
}

func newContractDetail(c *model.Contract, status window.Status) *ContractDetail {
	start, end := c.UploadStartDate, c.UploadEndDate
	keywords, conditions := c.Keywords, c.Conditions
	if keywords == nil {
		keywords = []string{}
	}
	if conditions == nil {
		conditions = []string{}
	}
	return &ContractDetail{
		Id:              c.Id,
		Title:           c.Title,
		Reward:          c.Reward,
		Recruits:        c.Recruits,
		Participants:    c.Participants,
		UploadPeriod:    Period{StartDate: &start, EndDate: &end},
		MaintainPeriod:  Period{StartDate: c.MaintainStartDate, EndDate: c.MaintainEndDate},
		Keywords:        keywords,
		Conditions:      conditions,
		Site:            c.Site,
		Media:           Media{MinTextLength: c.MediaText, MinImageCount: c.MediaImage},
		Description:     c.Description,
		PhotoUrl:        c.PhotoUrl,
		Status:          status,
		SmartContractId: c.SmartContractId,
	}
}
