package httpapi

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-inference/internal/common"
	"github.com/i474232898/weather-inference/internal/forecast"
	"github.com/i474232898/weather-inference/internal/store"
)

var validate = validator.New()

// NewApp returns a Fiber app with the JSON error envelope used by every route.
func NewApp(name string) *fiber.App {
	return fiber.New(fiber.Config{
		AppName:               name,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service *forecast.Service, dispatcher *forecast.Dispatcher) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":     "ok",
			"service":    "weather-inference",
			"activeRuns": len(dispatcher.Active()),
		})
	})

	v1 := app.Group("/api/v1")

	v1.Get("/operators", func(c *fiber.Ctx) error {
		descs := service.Registry().Descriptors()
		out := make([]operatorView, 0, len(descs))
		for _, d := range descs {
			out = append(out, newOperatorView(d))
		}
		return c.JSON(fiber.Map{"operators": out})
	})

	v1.Get("/plan", func(c *fiber.Ctx) error {
		req := forecastRequest{
			Start:  c.Query("start"),
			End:    c.Query("end"),
			Policy: c.Query("policy"),
		}
		runReq, err := req.toRunRequest()
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		plan, err := service.Plan(runReq.Start, runReq.End, runReq.Policy)
		if err != nil {
			return planError(err)
		}
		return c.JSON(newPlanView(plan))
	})

	v1.Post("/forecasts", func(c *fiber.Ctx) error {
		var req forecastRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		runReq, err := req.toRunRequest()
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		run, plan, err := dispatcher.Submit(runReq)
		if err != nil {
			return planError(err)
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"id":     run.ID,
			"status": run.Status,
			"plan":   newPlanView(plan),
		})
	})

	v1.Get("/forecasts", func(c *fiber.Ctx) error {
		var q listQuery
		q.Limit = c.QueryInt("limit", 50)
		if err := validate.Struct(q); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		runs, err := service.ListRuns(c.UserContext(), q.Limit)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to list runs")
		}
		if runs == nil {
			runs = []forecast.Run{}
		}
		return c.JSON(fiber.Map{"runs": runs})
	})

	v1.Get("/forecasts/:id", func(c *fiber.Ctx) error {
		run, err := service.GetRun(c.UserContext(), c.Params("id"))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no forecast run with this id")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch run")
		}
		return c.JSON(run)
	})

	v1.Delete("/forecasts/:id", func(c *fiber.Ctx) error {
		id := c.Params("id")
		if err := dispatcher.Cancel(id); err != nil {
			if !errors.Is(err, forecast.ErrRunNotActive) {
				return fiber.NewError(fiber.StatusInternalServerError, err.Error())
			}
			if _, getErr := service.GetRun(c.UserContext(), id); errors.Is(getErr, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no forecast run with this id")
			}
			return fiber.NewError(fiber.StatusConflict, "forecast run is not active")
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"id":     id,
			"status": "cancelling",
		})
	})
}

// planError maps planning failures to client errors.
func planError(err error) error {
	switch {
	case errors.Is(err, forecast.ErrInvalidRange), errors.Is(err, forecast.ErrUnreachableHorizon):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}

// forecastRequest is the body of POST /forecasts and the query of GET /plan.
type forecastRequest struct {
	Start  string `json:"start" validate:"required"`
	End    string `json:"end" validate:"required"`
	Policy string `json:"policy" validate:"omitempty,oneof=mixed single"`
}

func (r forecastRequest) toRunRequest() (forecast.RunRequest, error) {
	if err := validate.Struct(r); err != nil {
		return forecast.RunRequest{}, err
	}
	start, err := common.ParseTime(r.Start)
	if err != nil {
		return forecast.RunRequest{}, errors.New("start: " + err.Error())
	}
	end, err := common.ParseTime(r.End)
	if err != nil {
		return forecast.RunRequest{}, errors.New("end: " + err.Error())
	}
	return forecast.RunRequest{
		Start:  start,
		End:    end,
		Policy: forecast.Policy(r.Policy),
	}, nil
}

type listQuery struct {
	Limit int `validate:"gte=1,lte=500"`
}

type operatorView struct {
	Name         string         `json:"name"`
	Step         string         `json:"step"`
	StepSeconds  int64          `json:"stepSeconds"`
	InputSurface forecast.Shape `json:"inputSurface"`
	InputUpper   forecast.Shape `json:"inputUpper"`
}

func newOperatorView(d forecast.Descriptor) operatorView {
	return operatorView{
		Name:         d.Name,
		Step:         d.Step.String(),
		StepSeconds:  int64(d.Step / time.Second),
		InputSurface: d.Input.Surface,
		InputUpper:   d.Input.Upper,
	}
}

type planStepView struct {
	Operator  string    `json:"operator"`
	Increment string    `json:"increment"`
	ValidTime time.Time `json:"validTime"`
}

type planView struct {
	Start time.Time      `json:"start"`
	End   time.Time      `json:"end"`
	Steps []planStepView `json:"steps"`
}

func newPlanView(p forecast.HorizonPlan) planView {
	v := planView{Start: p.Start, End: p.End, Steps: make([]planStepView, 0, len(p.Steps))}
	for _, s := range p.Steps {
		v.Steps = append(v.Steps, planStepView{
			Operator:  s.Operator.Name,
			Increment: s.Operator.Step.String(),
			ValidTime: s.Valid,
		})
	}
	return v
}
