package service

import (
	"context"
	"errors"
	"testing"

	"dhs-api/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputePercentage(t *testing.T) {
	svc, _ := testService(t)

	resp, err := svc.Compute(context.Background(), Request{Indicator: "handwashing"})
	require.NoError(t, err)

	assert.Equal(t, "Handwashing Facilities", resp.Indicator)
	assert.Equal(t, "Percentage", resp.Unit)
	assert.Equal(t, "TS2020", resp.Survey)
	assert.Equal(t, "Testland", resp.Country)
	assert.Equal(t, 2020, resp.Year)
	assert.Equal(t, "Testland DHS 2020", resp.DataSource)

	require.NotNil(t, resp.National)
	assert.Equal(t, models.NationalData{Value: 50, SampleSize: 4}, *resp.National)
	assert.Equal(t, []models.ProvinceData{
		{ProvinceCode: 2, ProvinceName: "South", Value: 33, SampleSize: 3},
	}, resp.Provinces)
	assert.Equal(t, []models.DistrictData{
		{DistrictCode: 21, DistrictName: "Beta", Value: 0, SampleSize: 1},
		{DistrictCode: 22, DistrictName: "Gamma", Value: 50, SampleSize: 2},
	}, resp.Districts)
}

func TestComputeValueColumn(t *testing.T) {
	svc, _ := testService(t)

	resp, err := svc.Compute(context.Background(), Request{
		Indicator: "household-assets",
		Params:    map[string]string{"asset": "electricity"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Household Electricity Access", resp.Indicator)
	// code 9 reads as missing
	assert.Equal(t, models.NationalData{Value: 67, SampleSize: 3}, *resp.National)
	assert.Equal(t, 50.0, resp.Provinces[0].Value)
	assert.Equal(t, 2, resp.Provinces[0].SampleSize)
	require.Len(t, resp.Districts, 2)
	assert.Equal(t, 100.0, resp.Districts[1].Value)
	assert.Equal(t, 1, resp.Districts[1].SampleSize)
}

func TestComputeRegion(t *testing.T) {
	svc, _ := testService(t)

	resp, err := svc.Compute(context.Background(), Request{Indicator: "insurance", Region: 1})
	require.NoError(t, err)
	assert.Equal(t, 75.0, resp.National.Value)
	assert.Equal(t, "North", resp.Provinces[0].ProvinceName)
	assert.Equal(t, 100.0, resp.Provinces[0].Value)
	assert.Equal(t, []models.DistrictData{
		{DistrictCode: 11, DistrictName: "Alpha", Value: 100, SampleSize: 1},
	}, resp.Districts)
}

func TestComputeStrataDistricts(t *testing.T) {
	svc, _ := testService(t)

	resp, err := svc.Compute(context.Background(), Request{Indicator: "diarrhea"})
	require.NoError(t, err)
	assert.Equal(t, 67.0, resp.Provinces[0].Value)
	assert.Equal(t, []models.DistrictData{
		{DistrictCode: 21, DistrictName: "Beta", Value: 100, SampleSize: 1},
		{DistrictCode: 22, DistrictName: "Gamma", Value: 50, SampleSize: 2},
	}, resp.Districts)
}

func TestComputeMedianWithPrefix(t *testing.T) {
	svc, _ := testService(t)

	resp, err := svc.Compute(context.Background(), Request{
		Indicator: "median-age-first-marriage",
		Params:    map[string]string{"gender": "male"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Median Age at First Marriage (Men)", resp.Indicator)
	assert.Equal(t, "Years", resp.Unit)
	assert.Equal(t, models.NationalData{Value: 25, SampleSize: 3}, *resp.National)
	assert.Equal(t, 20.0, resp.Provinces[0].Value)
	assert.Equal(t, []models.DistrictData{
		{DistrictCode: 21, DistrictName: "Beta", Value: 20, SampleSize: 2},
	}, resp.Districts)
}

func TestComputeBySurveySelection(t *testing.T) {
	svc, _ := testService(t)

	resp, err := svc.Compute(context.Background(), Request{Indicator: "insurance", Country: "testland", Year: 2020})
	require.NoError(t, err)
	assert.Equal(t, "TS2020", resp.Survey)

	_, err = svc.Compute(context.Background(), Request{Indicator: "insurance", Country: "XX"})
	assert.True(t, errors.Is(err, ErrUnknownSurvey))

	_, err = svc.Compute(context.Background(), Request{Indicator: "insurance", Survey: "XX2000"})
	assert.True(t, errors.Is(err, ErrUnknownSurvey))

	// the 2015 round has no microdata
	_, err = svc.Compute(context.Background(), Request{Indicator: "insurance", Survey: "TS2015"})
	assert.True(t, errors.Is(err, ErrDatasetNotFound))
}

func TestComputeErrors(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	_, err := svc.Compute(ctx, Request{Indicator: "nope"})
	assert.True(t, errors.Is(err, ErrUnknownIndicator))

	_, err = svc.Compute(ctx, Request{Indicator: "insurance", Region: 7})
	assert.True(t, errors.Is(err, ErrInvalidParam))
	var pe *ParamError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "region", pe.Param)
	assert.Equal(t, []string{"1", "2"}, pe.Options)

	_, err = svc.Compute(ctx, Request{Indicator: "stunting", Params: map[string]string{"severity": "extreme"}})
	assert.True(t, errors.Is(err, ErrInvalidParam))

	_, err = svc.Compute(ctx, Request{Indicator: "contraception-methods"})
	assert.True(t, errors.Is(err, ErrInvalidParam))

	_, err = svc.ComputeBreakdown(ctx, Request{Indicator: "insurance"})
	assert.True(t, errors.Is(err, ErrInvalidParam))
}

func TestComputeBreakdown(t *testing.T) {
	svc, _ := testService(t)

	resp, err := svc.ComputeBreakdown(context.Background(), Request{Indicator: "contraception-methods"})
	require.NoError(t, err)

	assert.Equal(t, "South", resp.Location)
	assert.Equal(t, 2, resp.LocationCode)
	assert.Equal(t, 3, resp.SampleSize)
	assert.Len(t, resp.Indicators, 12)
	assert.Equal(t, 33.0, resp.Indicators["pill"])
	assert.Equal(t, 33.0, resp.Indicators["injections"])
	assert.Equal(t, 0.0, resp.Indicators["implants"])
}

func TestRecords(t *testing.T) {
	svc, _ := testService(t)

	recs, err := svc.Records(context.Background(), Query{Country: "TS", Year: 2020, Indicator: "handwashing"})
	require.NoError(t, err)
	require.Len(t, recs, 6)

	national := recs[0]
	assert.Equal(t, models.LevelNational, national.Level)
	assert.Equal(t, "Testland", national.LocationName)
	assert.Equal(t, "TS", national.CountryCode)
	assert.Equal(t, 2020, national.Year)
	assert.Equal(t, 1, national.Chapter)
	assert.Equal(t, 50.0, national.Value)

	var levels []string
	var names []string
	for _, r := range recs {
		levels = append(levels, r.Level)
		names = append(names, r.LocationName)
	}
	assert.Equal(t, []string{"national", "province", "province", "district", "district", "district"}, levels)
	assert.Equal(t, []string{"Testland", "North", "South", "Alpha", "Beta", "Gamma"}, names)
}

func TestRecordsFilters(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	recs, err := svc.Records(ctx, Query{Indicator: "handwashing", Region: 2, Level: "district"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "Beta", recs[0].LocationName)
	assert.Equal(t, "Gamma", recs[1].LocationName)

	recs, err = svc.Records(ctx, Query{Indicator: "household-assets", Variant: "radio", Level: "national", Year: 2020})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "radio", recs[0].Variant)
	assert.Equal(t, "Radio Ownership", recs[0].Name)

	recs, err = svc.Records(ctx, Query{Country: "Nowhere"})
	require.NoError(t, err)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)

	// no microdata behind the 2015 round
	recs, err = svc.Records(ctx, Query{Year: 2015, Indicator: "insurance"})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestRecordsAllIndicators(t *testing.T) {
	svc, _ := testService(t)

	recs, err := svc.Records(context.Background(), Query{Year: 2020, Level: "national"})
	require.NoError(t, err)

	seen := make(map[string]bool)
	for _, r := range recs {
		seen[r.Indicator] = true
	}
	assert.True(t, seen["handwashing"])
	assert.True(t, seen["insurance"])
	assert.True(t, seen["diarrhea"])
	assert.False(t, seen["birth-registration"], "person recode is not loaded")
	assert.False(t, seen["contraception-methods"], "breakdowns have no single value")
}

func TestRecordsErrors(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	_, err := svc.Records(ctx, Query{Level: "village"})
	assert.True(t, errors.Is(err, ErrInvalidParam))

	_, err = svc.Records(ctx, Query{Indicator: "nope"})
	assert.True(t, errors.Is(err, ErrUnknownIndicator))

	_, err = svc.Records(ctx, Query{Indicator: "stunting", Variant: "extreme"})
	var pe *ParamError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "variant", pe.Param)

	_, err = svc.Records(ctx, Query{Year: 2020, Region: 9})
	assert.True(t, errors.Is(err, ErrInvalidParam))
}

func TestIndicatorIDsByChapter(t *testing.T) {
	svc, _ := testService(t)

	ids := svc.IndicatorIDsByChapter()
	assert.Len(t, ids, 10)
	assert.Equal(t, []string{"household-assets", "handwashing"}, ids["chapter1"])
}
