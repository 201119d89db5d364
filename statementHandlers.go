package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/finreport_backend/models"
	"github.com/mmdatafocus/finreport_backend/models/reports"
	"github.com/mmdatafocus/finreport_backend/utils"
)

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func respondMessage(c *gin.Context, message string, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "message": message, "data": data})
}

// respondError maps the error taxonomy onto the response envelope.
func respondError(c *gin.Context, err error) {
	status := utils.HTTPStatus(err)
	body := gin.H{"success": false, "error": err.Error()}

	var nf *utils.NotFoundError
	if errors.As(err, &nf) && nf.PreviousPeriod != "" {
		body["previousPeriod"] = nf.PreviousPeriod
		body["error"] = fmt.Sprintf("no data for previous period %s; enter opening balances manually", nf.PreviousPeriod)
	}
	var ve *utils.ValidationError
	if errors.As(err, &ve) && ve.Field != "" {
		body["field"] = ve.Field
	}
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, body)
}

func periodParam(c *gin.Context) (models.Period, error) {
	return models.ParsePeriod(c.Param("period"))
}

func (a *App) listFamiliesHandler(c *gin.Context) {
	respondOK(c, a.ledger.Families().All())
}

func (a *App) listPeriodsHandler(c *gin.Context) {
	periods, err := a.ledger.ListPeriods(c.Request.Context(), c.Param("family"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, periods)
}

func (a *App) periodViewHandler(c *gin.Context) {
	period, err := periodParam(c)
	if err != nil {
		respondError(c, err)
		return
	}
	view, err := a.ledger.PeriodView(c.Request.Context(), c.Param("family"), period)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, view)
}

func (a *App) savePeriodHandler(c *gin.Context) {
	family, err := a.ledger.Family(c.Param("family"))
	if err != nil {
		respondError(c, err)
		return
	}
	var input models.SavePeriodInput
	if err := c.ShouldBindJSON(&input); err != nil {
		respondError(c, utils.NewValidationError("body", "%s", err.Error()))
		return
	}
	if err := utils.ValidateStruct(&input); err != nil {
		respondError(c, err)
		return
	}
	period, err := models.ParsePeriod(input.Period)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := a.ledger.SavePeriod(c.Request.Context(), family.Key, period, input.Facts(family.Entity, period)); err != nil {
		respondError(c, err)
		return
	}
	respondMessage(c, "saved", gin.H{"family": family.Key, "period": period, "rows": len(input.Data)})
}

func (a *App) deletePeriodHandler(c *gin.Context) {
	period, err := periodParam(c)
	if err != nil {
		respondError(c, err)
		return
	}
	n, err := a.ledger.DeletePeriod(c.Request.Context(), c.Param("family"), period)
	if err != nil {
		respondError(c, err)
		return
	}
	respondMessage(c, "deleted", gin.H{"family": c.Param("family"), "period": period, "rows": n})
}

func (a *App) previousEndBalanceHandler(c *gin.Context) {
	period, err := periodParam(c)
	if err != nil {
		respondError(c, err)
		return
	}
	balances, err := a.ledger.OpeningBalances(c.Request.Context(), c.Param("family"), period)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, balances)
}

func (a *App) cumulativeHandler(c *gin.Context) {
	period, err := periodParam(c)
	if err != nil {
		respondError(c, err)
		return
	}
	report, err := a.ledger.Cumulative(c.Request.Context(), c.Param("family"), period)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, report)
}

func (a *App) yearSeriesHandler(c *gin.Context) {
	year, err := strconv.Atoi(c.Param("year"))
	if err != nil {
		respondError(c, utils.NewValidationError("year", "%q is not a year", c.Param("year")))
		return
	}
	series, err := a.ledger.YearSeries(c.Request.Context(), c.Param("family"), year)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, series)
}

func (a *App) exportPeriodHandler(c *gin.Context) {
	period, err := periodParam(c)
	if err != nil {
		respondError(c, err)
		return
	}
	view, err := a.ledger.PeriodView(c.Request.Context(), c.Param("family"), period)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s_%s.xlsx", view.Family, view.Period))
	c.Status(http.StatusOK)
	if err := reports.WritePeriodViewExcel(c.Writer, view); err != nil {
		_ = c.Error(err)
	}
}

func (a *App) marginHandler(c *gin.Context) {
	period, err := periodParam(c)
	if err != nil {
		respondError(c, err)
		return
	}
	report, err := a.ledger.Margin(c.Request.Context(), c.Query("income"), c.Query("cost"), period)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, report)
}

func (a *App) submissionStatusHandler(c *gin.Context) {
	period, err := periodParam(c)
	if err != nil {
		respondError(c, err)
		return
	}
	rows, err := a.submissions.ListForPeriod(c.Request.Context(), period)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{
		"period":   period,
		"families": models.SubmissionStatuses(a.ledger.Families(), period, rows),
	})
}
