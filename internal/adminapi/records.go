package adminapi

import (
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/bjo163/wagate/internal/domain"
	"github.com/bjo163/wagate/internal/webserver"
)

func registerRecordRoutes() {
	webserver.ApiGET("/messages", listMessages)
	webserver.ApiGET("/contacts", listContacts)
	webserver.ApiGET("/webhook-events", listWebhookEvents)
}

// sessionScope filters by session_name when given, resolving it to the
// session id the records are keyed by.
func sessionScope(c echo.Context, q *gorm.DB) *gorm.DB {
	if name := c.QueryParam("session_name"); name != "" {
		sub := GetDB(c).Model(&domain.Session{}).Select("id").
			Where("session_name = ?", name)
		q = q.Where("session_id in (?)", sub)
	}
	return q
}

func listMessages(c echo.Context) error {
	pos, limit := parsePagination(c)
	q := sessionScope(c, GetDB(c).Model(&domain.Message{}))
	if jid := c.QueryParam("remote_jid"); jid != "" {
		q = q.Where("remote_jid = ?", jid)
	}
	if unread := c.QueryParam("unread"); unread == "true" {
		q = q.Where("is_read = ? and from_me = ?", false, false)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return failErr(c, err)
	}
	var messages []domain.Message
	if err := q.Order("message_timestamp desc").
		Offset(pos).Limit(limit).Find(&messages).Error; err != nil {
		return failErr(c, err)
	}
	return paged(c, total, pos, limit, messages)
}

func listContacts(c echo.Context) error {
	pos, limit := parsePagination(c)
	q := sessionScope(c, GetDB(c).Model(&domain.Contact{}))
	if ident := c.QueryParam("identifier"); ident != "" {
		q = q.Where("identifier = ?", ident)
	}
	if kw := c.QueryParam("keyword"); kw != "" {
		q = q.Where("name like ? or phone_number like ?", "%"+kw+"%", "%"+kw+"%")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return failErr(c, err)
	}
	var contacts []domain.Contact
	if err := q.Order("name asc").
		Offset(pos).Limit(limit).Find(&contacts).Error; err != nil {
		return failErr(c, err)
	}
	return paged(c, total, pos, limit, contacts)
}

func listWebhookEvents(c echo.Context) error {
	pos, limit := parsePagination(c)
	q := sessionScope(c, GetDB(c).Model(&domain.WebhookEvent{}))
	if status := c.QueryParam("status"); status != "" {
		q = q.Where("status = ?", status)
	}
	if et := c.QueryParam("event_type"); et != "" {
		q = q.Where("event_type = ?", et)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return failErr(c, err)
	}
	var events []domain.WebhookEvent
	if err := q.Order("created_at desc").
		Offset(pos).Limit(limit).Find(&events).Error; err != nil {
		return failErr(c, err)
	}
	return paged(c, total, pos, limit, events)
}
