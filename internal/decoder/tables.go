package decoder

import "github.com/KevinKickass/dbscada/internal/types"

const (
	TableAPIS1IFV1   types.TableID = "apis1_ifv1"
	TableAPIS1IFV2   types.TableID = "apis1_ifv2"
	TableAPIS1IFV3   types.TableID = "apis1_ifv3"
	TableAPIS2PB     types.TableID = "apis2_pb"
	TableAPIS2LI     types.TableID = "apis2_li"
	TableAPIS2RDX    types.TableID = "apis2_rdx"
	TableAPIS2SC     types.TableID = "apis2_sc"
	TableAPIS3Motor1 types.TableID = "apis3_motor1"
	TableAPIS3Motor2 types.TableID = "apis3_motor2"
)

func f(name string, offset int, divisor uint16) FieldSpec {
	return FieldSpec{Name: name, Offset: offset, Divisor: divisor}
}

var layouts = map[types.TableID]*Layout{
	TableAPIS1IFV1:   inverterLayout(TableAPIS1IFV1),
	TableAPIS1IFV2:   inverterLayout(TableAPIS1IFV2),
	TableAPIS1IFV3:   inverterV3Layout(),
	TableAPIS2PB:     leadBankLayout(),
	TableAPIS2LI:     lithiumBankLayout(),
	TableAPIS2RDX:    redoxLayout(),
	TableAPIS2SC:     supercapLayout(),
	TableAPIS3Motor1: generatorLayout(TableAPIS3Motor1),
	TableAPIS3Motor2: generatorLayout(TableAPIS3Motor2),
}

// apis1 inverters 1 and 2: 24 words, electrical values in tenths.
func inverterLayout(table types.TableID) *Layout {
	return &Layout{
		Table: table,
		Words: 24,
		Fields: []FieldSpec{
			f("Status_Conversor", 0, 1),
			f("DC_Voltage_of_Inverter", 1, 10),
			f("DC_Current_of_Inverter", 2, 10),
			f("DC_Power_of_Inverter", 3, 10),
			f("Phase_Voltage_R_of_Inverter", 4, 10),
			f("Phase_Voltage_S_of_Inverter", 5, 10),
			f("Phase_Voltage_T_of_Inverter", 6, 10),
			f("Line_Voltage_RS_of_Inverter", 7, 10),
			f("Line_Voltage_ST_of_Inverter", 8, 10),
			f("Line_Voltage_TR_of_Inverter", 9, 10),
			f("Line_Current_R_of_Inverter", 10, 10),
			f("Line_Current_S_of_Inverter", 11, 10),
			f("Line_Current_T_of_Inverter", 12, 10),
			f("Active_Power_Phase_R", 13, 1),
			f("Active_Power_Phase_S", 14, 1),
			f("Active_Power_Phase_T", 15, 1),
			f("Reactive_Power_Phase_R", 16, 1),
			f("Reactive_Power_Phase_S", 17, 1),
			f("Reactive_Power_Phase_T", 18, 1),
			f("Total_Active_Power", 19, 1),
			f("Total_Reactive_Power", 20, 1),
			f("Total_Apparent_Power", 21, 1),
			f("Power_Factor", 22, 1),
			f("Freq_System", 23, 10),
		},
	}
}

// apis1 inverter 3: hundredths, no power factor word.
func inverterV3Layout() *Layout {
	return &Layout{
		Table: TableAPIS1IFV3,
		Words: 23,
		Fields: []FieldSpec{
			f("Status_Conversor", 0, 1),
			f("DC_Voltage_of_Inverter", 1, 100),
			f("DC_Current_of_Inverter", 2, 100),
			f("DC_Power_of_Inverter", 3, 100),
			f("Phase_Voltage_R_of_Inverter", 4, 100),
			f("Phase_Voltage_S_of_Inverter", 5, 100),
			f("Phase_Voltage_T_of_Inverter", 6, 100),
			f("Line_Voltage_RS_of_Inverter", 7, 100),
			f("Line_Voltage_ST_of_Inverter", 8, 100),
			f("Line_Voltage_TR_of_Inverter", 9, 100),
			f("Line_Current_R_of_Inverter", 10, 100),
			f("Line_Current_S_of_Inverter", 11, 100),
			f("Line_Current_T_of_Inverter", 12, 100),
			f("Active_Power_Phase_R", 13, 1),
			f("Active_Power_Phase_S", 14, 1),
			f("Active_Power_Phase_T", 15, 1),
			f("Reactive_Power_Phase_R", 16, 1),
			f("Reactive_Power_Phase_S", 17, 1),
			f("Reactive_Power_Phase_T", 18, 1),
			f("Total_Active_Power", 19, 100),
			f("Total_Reactive_Power", 20, 100),
			f("Total_Apparent_Power", 21, 100),
			f("Freq_System", 22, 100),
		},
	}
}

// converterFields is the 23-field converter block shared by the apis2 banks,
// starting at word base (DC voltage) and ending with the frequency word.
func converterFields(base int) []FieldSpec {
	return []FieldSpec{
		f("DC_Voltage_of_Inverter", base, 10),
		f("DC_Current_of_Inverter", base+1, 10),
		f("DC_Power_of_Inverter", base+2, 10),
		f("Phase_Voltage_R_of_Inverter", base+3, 10),
		f("Phase_Voltage_S_of_Inverter", base+4, 10),
		f("Phase_Voltage_T_of_Inverter", base+5, 10),
		f("Line_Voltage_RS_of_Inverter", base+6, 10),
		f("Line_Voltage_ST_of_Inverter", base+7, 10),
		f("Line_Voltage_TR_of_Inverter", base+8, 10),
		f("Line_Current_R_of_Inverter", base+9, 10),
		f("Line_Current_S_of_Inverter", base+10, 10),
		f("Line_Current_T_of_Inverter", base+11, 10),
		f("Active_Power_Phase_R", base+12, 1),
		f("Active_Power_Phase_S", base+13, 1),
		f("Active_Power_Phase_T", base+14, 1),
		f("Reactive_Power_Phase_R", base+15, 1),
		f("Reactive_Power_Phase_S", base+16, 1),
		f("Reactive_Power_Phase_T", base+17, 1),
		f("Total_Active_Power", base+18, 1),
		f("Total_Reactive_Power", base+19, 1),
		f("Total_Apparent_Power", base+20, 1),
		f("Power_Factor", base+21, 1),
		f("Freq_System", base+22, 10),
	}
}

// apis2_pb: lead-acid bank, 33 words.
func leadBankLayout() *Layout {
	fields := []FieldSpec{
		f("ACTUAL_MODE", 0, 1),
		f("STATUS_CONVERSOR", 1, 1),
	}
	fields = append(fields, converterFields(2)...)
	fields = append(fields,
		f("SOC", 31, 1),
		f("VCELL", 32, 1),
	)
	return &Layout{Table: TableAPIS2PB, Words: 33, Fields: fields}
}

// apis2_li: lithium bank, 48 words. Converter block sits behind the BMS words.
func lithiumBankLayout() *Layout {
	fields := []FieldSpec{
		f("ACTUAL_mode", 23, 1),
		f("STATUS_CONVERSOR", 24, 1),
	}
	fields = append(fields, converterFields(25)...)
	fields = append(fields,
		f("SOC", 5, 10),
		f("SOH", 6, 10),
		f("Sys_Voltage", 7, 10),
		f("Sys_Current", 8, 10),
		f("Sys_Temp_Min", 9, 100),
		f("Sys_Temp_Max", 10, 100),
	)
	return &Layout{Table: TableAPIS2LI, Words: 48, Fields: fields}
}

// apis2_rdx: redox flow bank, 56 words, two grid clusters and two DC buses.
func redoxLayout() *Layout {
	return &Layout{
		Table: TableAPIS2RDX,
		Words: 56,
		Fields: []FieldSpec{
			f("P_ACT_L1_GRID_GEN_CLUSTER_A", 4, 10),
			f("P_ACT_L2_GRID_GEN_CLUSTER_A", 5, 10),
			f("P_ACT_L3_GRID_GEN_CLUSTER_A", 6, 10),
			f("P_REACT_L1_GRID_GEN_CLUSTER_A", 10, 10),
			f("P_REACT_L2_GRID_GEN_CLUSTER_A", 11, 10),
			f("P_REACT_L3_GRID_GEN_CLUSTER_A", 12, 10),
			f("P_ACT_L1_GRID_GEN_CLUSTER_B", 19, 100),
			f("P_ACT_L2_GRID_GEN_CLUSTER_B", 20, 10),
			f("P_ACT_L3_GRID_GEN_CLUSTER_B", 21, 10),
			f("P_REACT_L1_GRID_GEN_CLUSTER_B", 26, 10),
			f("P_REACT_L2_GRID_GEN_CLUSTER_B", 27, 10),
			f("P_REACT_L3_GRID_GEN_CLUSTER_B", 28, 10),
			f("SOC", 39, 10),
			f("BAT_VOLT_DC_BUS_A", 41, 10),
			f("DC_CHARGE_CURR_DC_BUS_A", 42, 10),
			f("DC_DISCHARGE_CURR_DC_BUS_A", 43, 10),
			f("MAX_CHARGE_VOLT_INV_DC_BUS_A", 44, 1),
			f("MAX_DC_DISCHARGE_CURR_INV_DC_BUS_A", 45, 1),
			f("BAT_VOLT_DC_BUS_B", 48, 10),
			f("DC_CHARGE_CURR_DC_BUS_B", 49, 10),
			f("DC_DISCHARGE_CURR_DC_BUS_B", 50, 10),
			f("MAX_CHARGE_VOLT_INV_DC_BUS_B", 51, 1),
			f("MAX_DC_DISCHARGE_CURR_INV_DC_BUS_B", 52, 1),
			f("REDOX_P_TOT", 55, 10),
		},
	}
}

// apis2_sc: supercapacitor bank, 33 words, word 0 unused.
func supercapLayout() *Layout {
	fields := []FieldSpec{
		f("Status_conversor", 1, 1),
	}
	fields = append(fields, converterFields(2)...)
	fields = append(fields,
		f("SOC", 31, 10),
		f("VCap", 32, 10),
	)
	return &Layout{Table: TableAPIS2SC, Words: 33, Fields: fields}
}

// apis3 generator controllers: 74 words, electrical quantities are
// two-word values of which only the first word is stored.
func generatorLayout(table types.TableID) *Layout {
	return &Layout{
		Table: table,
		Words: 74,
		Fields: []FieldSpec{
			f("Estado_OP_motor", 0, 1),
			f("Piloto_filtro", 1, 1),
			f("Piloto_exp_gases", 2, 1),
			f("Estado_conex", 3, 1),
			f("Presion_aceite", 4, 1),
			f("Temp_refrigerante", 5, 1),
			f("Temp_aceite", 6, 1),
			f("Consumo_combustible", 7, 1),
			f("Nivel_combustible", 8, 1),
			f("V_carga_alternador", 9, 100),
			f("V_bat_arranque", 10, 100),
			f("Vel_giro_motor", 11, 1),
			f("Freq_giro_gen", 12, 100),
			f("Compen_I_gen", 13, 1),
			f("Fase_rot_gen", 14, 1),
			f("Freq_giro_suministro", 15, 100),
			f("Compen_I_suministro", 16, 1),
			f("Fase_rot_suministro", 17, 1),
			f("Freq", 18, 100),
			f("Flag_0", 19, 1),
			f("Flag_2", 20, 1),
			f("V_gen_L1_N", 21, 100),
			f("V_gen_L2_N", 23, 100),
			f("V_gen_L3_N", 25, 100),
			f("V_gen_L1_L2", 27, 100),
			f("V_gen_L2_L3", 29, 100),
			f("V_gen_L3_L1", 31, 100),
			f("I_gen_L1_N", 33, 100),
			f("I_gen_L2_N", 35, 100),
			f("I_gen_L3_N", 37, 100),
			f("I_tierra_gen", 39, 100),
			f("P_gen_L1", 41, 1),
			f("P_gen_L2", 43, 1),
			f("P_gen_L3", 45, 1),
			f("V_suministro_L1_N", 47, 100),
			f("V_suministro_L2_N", 49, 100),
			f("V_suministro_L3_N", 51, 100),
			f("V_suministro_L1_L2", 53, 100),
			f("V_suministro_L2_L3", 55, 100),
			f("V_suministro_L3_L1", 57, 100),
			f("I_suministro_L1", 59, 100),
			f("I_suministro_L2", 61, 100),
			f("I_suministro_L3", 63, 100),
			f("I_tierra_suministro", 65, 1),
			f("P_suministro_L1", 67, 1),
			f("P_suministro_L2", 69, 1),
			f("P_suministro_L3", 71, 1),
			f("P_Total", 73, 1),
		},
	}
}
