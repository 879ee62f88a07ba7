package mail

import (
	"mime"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"golang.org/x/exp/maps"

	"github.com/totegamma/postbox/core"
	"github.com/totegamma/postbox/x/auth"
	"github.com/totegamma/postbox/x/util"
)

// Handler is the interface for handling HTTP requests
type Handler interface {
	Send(c echo.Context) error
	Inbox(c echo.Context) error
	Outbox(c echo.Context) error
	Get(c echo.Context) error
	MarkRead(c echo.Context) error
	Delete(c echo.Context) error
	Stats(c echo.Context) error
	Download(c echo.Context) error
}

type handler struct {
	service core.MailService
}

// NewHandler creates a new handler
func NewHandler(service core.MailService) Handler {
	return &handler{service: service}
}

// Send accepts a json body or a multipart form carrying files
func (h *handler) Send(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "Mail.Handler.Send")
	defer span.End()

	requester, _ := auth.RequesterFromContext(c)

	var input core.SendInput
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		form, err := c.MultipartForm()
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid request", "message": err.Error()})
		}
		input.To = c.FormValue("to_email")
		input.Subject = c.FormValue("subject")
		input.Body = c.FormValue("body")
		input.HTMLBody = c.FormValue("html_body")

		fields := maps.Keys(form.File)
		slices.Sort(fields)
		for _, field := range fields {
			for _, header := range form.File[field] {
				file, err := header.Open()
				if err != nil {
					span.RecordError(err)
					return c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid request", "message": err.Error()})
				}
				defer file.Close()
				input.Attachments = append(input.Attachments, core.AttachmentInput{
					Filename:    header.Filename,
					ContentType: header.Header.Get(echo.HeaderContentType),
					Size:        header.Size,
					Content:     file,
				})
			}
		}
	} else {
		err := c.Bind(&input)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid request", "message": err.Error()})
		}
	}

	message, err := h.service.Send(ctx, requester, input)
	if err != nil {
		span.RecordError(err)
		return util.ErrorJSON(c, err)
	}

	return c.JSON(http.StatusCreated, echo.Map{"status": "ok", "content": message})
}

func pageParams(c echo.Context) (int, int) {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	perPage, _ := strconv.Atoi(c.QueryParam("per_page"))
	return core.NormalizePage(page, perPage)
}

func (h *handler) Inbox(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "Mail.Handler.Inbox")
	defer span.End()

	requester, _ := auth.RequesterFromContext(c)
	page, perPage := pageParams(c)

	messages, total, err := h.service.Inbox(ctx, requester.ID, c.QueryParam("search"), page, perPage)
	if err != nil {
		span.RecordError(err)
		return util.ErrorJSON(c, err)
	}

	return c.JSON(http.StatusOK, core.ResponseBase[[]core.Message]{
		Status:     "ok",
		Content:    messages,
		Pagination: core.NewPagination(page, perPage, total),
	})
}

func (h *handler) Outbox(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "Mail.Handler.Outbox")
	defer span.End()

	requester, _ := auth.RequesterFromContext(c)
	page, perPage := pageParams(c)

	messages, total, err := h.service.Outbox(ctx, requester.ID, c.QueryParam("search"), page, perPage)
	if err != nil {
		span.RecordError(err)
		return util.ErrorJSON(c, err)
	}

	return c.JSON(http.StatusOK, core.ResponseBase[[]core.Message]{
		Status:     "ok",
		Content:    messages,
		Pagination: core.NewPagination(page, perPage, total),
	})
}

func (h *handler) Get(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "Mail.Handler.Get")
	defer span.End()

	requester, _ := auth.RequesterFromContext(c)

	message, err := h.service.Get(ctx, requester, c.Param("id"))
	if err != nil {
		span.RecordError(err)
		return util.ErrorJSON(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"status": "ok", "content": message})
}

func (h *handler) MarkRead(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "Mail.Handler.MarkRead")
	defer span.End()

	requester, _ := auth.RequesterFromContext(c)

	message, err := h.service.MarkRead(ctx, requester, c.Param("id"))
	if err != nil {
		span.RecordError(err)
		return util.ErrorJSON(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"status": "ok", "content": message})
}

func (h *handler) Delete(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "Mail.Handler.Delete")
	defer span.End()

	requester, _ := auth.RequesterFromContext(c)

	err := h.service.Delete(ctx, requester.ID, c.Param("id"))
	if err != nil {
		span.RecordError(err)
		return util.ErrorJSON(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

func (h *handler) Stats(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "Mail.Handler.Stats")
	defer span.End()

	requester, _ := auth.RequesterFromContext(c)

	stats, err := h.service.Stats(ctx, requester.ID)
	if err != nil {
		span.RecordError(err)
		return util.ErrorJSON(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"status": "ok", "content": stats})
}

// Download streams an attachment to a party of its message
func (h *handler) Download(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "Mail.Handler.Download")
	defer span.End()

	requester, _ := auth.RequesterFromContext(c)

	attachment, content, err := h.service.OpenAttachment(ctx, requester.ID, c.Param("id"))
	if err != nil {
		span.RecordError(err)
		return util.ErrorJSON(c, err)
	}
	defer content.Close()

	c.Response().Header().Set(
		echo.HeaderContentDisposition,
		mime.FormatMediaType("attachment", map[string]string{"filename": attachment.Filename}),
	)
	if attachment.Size > 0 {
		c.Response().Header().Set(echo.HeaderContentLength, strconv.FormatInt(attachment.Size, 10))
	}

	return c.Stream(http.StatusOK, attachment.ContentType, content)
}
